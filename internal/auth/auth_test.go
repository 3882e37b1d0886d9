package auth

import (
	"net/http/httptest"
	"testing"
)

func TestValidateAPIKey(t *testing.T) {
	a := NewAuthenticator([]Key{
		{Hash: HashAPIKey("sk-valid"), Description: "ci"},
		{Hash: HashAPIKey("sk-other"), Description: "ops"},
	})

	desc, err := a.ValidateAPIKey("sk-valid")
	if err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if desc != "ci" {
		t.Errorf("description = %q, want ci", desc)
	}

	if _, err := a.ValidateAPIKey("sk-wrong"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := a.ValidateAPIKey(""); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestValidateAPIKey_MixedCaseHash(t *testing.T) {
	// Hand-edited configs sometimes carry uppercase hex.
	hash := HashAPIKey("sk-valid")
	upper := ""
	for _, ch := range hash {
		if ch >= 'a' && ch <= 'f' {
			ch = ch - 'a' + 'A'
		}
		upper += string(ch)
	}

	a := NewAuthenticator([]Key{{Hash: upper, Description: "ci"}})
	if _, err := a.ValidateAPIKey("sk-valid"); err != nil {
		t.Errorf("ValidateAPIKey() error = %v, want match for uppercase-configured hash", err)
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		value   string
		want    string
		wantErr bool
	}{
		{"bearer", "Authorization", "Bearer sk-123", "sk-123", false},
		{"bearer lowercase scheme", "Authorization", "bearer sk-123", "sk-123", false},
		{"x-api-key", "X-Api-Key", "sk-456", "sk-456", false},
		{"missing", "", "", "", true},
		{"no scheme", "Authorization", "sk-123", "", true},
		{"basic scheme", "Authorization", "Basic dXNlcg==", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}

			got, err := ExtractAPIKey(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashAPIKey(t *testing.T) {
	h1 := HashAPIKey("sk-123")
	h2 := HashAPIKey("sk-123")
	if h1 != h2 {
		t.Error("hash is not deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
	if HashAPIKey("sk-124") == h1 {
		t.Error("distinct keys produced the same hash")
	}
}
