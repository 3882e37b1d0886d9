package tokens

import (
	"testing"

	"github.com/accordly/case-insight/internal/domain"
)

func TestEstimator_CountTranscript(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name      string
		messages  []domain.Message
		minTokens int
		maxTokens int
	}{
		{
			name: "single message",
			messages: []domain.Message{
				{SenderID: "p1", Body: "Can you pick up the kids on Friday?"},
			},
			minTokens: 5,
			maxTokens: 20,
		},
		{
			name: "multiple messages",
			messages: []domain.Message{
				{SenderID: "p1", Body: "Can you pick up the kids on Friday?"},
				{SenderID: "p2", Body: "I already told you I work late on Fridays."},
				{SenderID: "p1", Body: "You never mentioned that."},
			},
			minTokens: 15,
			maxTokens: 50,
		},
		{
			name:      "empty transcript",
			messages:  nil,
			minTokens: 0,
			maxTokens: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.CountTranscript(tt.messages)
			if got < tt.minTokens || got > tt.maxTokens {
				t.Errorf("CountTranscript() = %d, want between %d and %d", got, tt.minTokens, tt.maxTokens)
			}
		})
	}
}

func TestRegistry_FallbackForUnknownModel(t *testing.T) {
	r := NewRegistry()
	r.Register(NewTiktokenCounter())

	messages := []domain.Message{
		{SenderID: "p1", Body: "Short message."},
	}

	tokens, estimated := r.CountTranscript("reasoner-large-v2", messages)
	if !estimated {
		t.Error("expected fallback estimate for unknown model")
	}
	if tokens <= 0 {
		t.Errorf("expected positive token count, got %d", tokens)
	}
}

func TestModelMatcher(t *testing.T) {
	m := NewModelMatcher([]string{"gpt-"}, []string{"davinci"})

	tests := []struct {
		model string
		want  bool
	}{
		{"gpt-4o", true},
		{"gpt-3.5-turbo", true},
		{"davinci", true},
		{"llama-3", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := m.Matches(tt.model); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestTiktokenCounter_SupportsModel(t *testing.T) {
	c := NewTiktokenCounter()

	if !c.SupportsModel("gpt-4o-mini") {
		t.Error("expected gpt-4o-mini to be supported")
	}
	if c.SupportsModel("reasoner-large-v2") {
		t.Error("expected reasoner-large-v2 to be unsupported")
	}
}
