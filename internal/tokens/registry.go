// Package tokens estimates the token footprint of conversation transcripts.
package tokens

import (
	"strings"

	"github.com/accordly/case-insight/internal/domain"
)

// Counter counts tokens for the models it supports.
type Counter interface {
	// SupportsModel reports whether the counter can count for model.
	SupportsModel(model string) bool

	// CountText counts the tokens in a plain text string.
	CountText(model, text string) (int, error)
}

// Registry manages token counters and falls back to a character-based
// estimator for unknown models.
type Registry struct {
	counters []Counter
	fallback *Estimator
}

// NewRegistry creates a registry with the default fallback estimator.
func NewRegistry() *Registry {
	return &Registry{
		fallback: NewEstimator(),
	}
}

// Register adds a token counter to the registry.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// CountTranscript returns the token footprint of a transcript for model.
// estimated is true when the fallback estimator produced the count.
func (r *Registry) CountTranscript(model string, messages []domain.Message) (tokens int, estimated bool) {
	for _, counter := range r.counters {
		if !counter.SupportsModel(model) {
			continue
		}
		total := 0
		ok := true
		for _, msg := range messages {
			n, err := counter.CountText(model, msg.Body)
			if err != nil {
				ok = false
				break
			}
			// per-message formatting overhead
			total += n + messageOverheadTokens
		}
		if ok {
			return total, false
		}
	}
	return r.fallback.CountTranscript(messages), true
}

// messageOverheadTokens approximates the chat framing cost per message.
const messageOverheadTokens = 4

// Estimator provides token count estimation based on character analysis.
// This is the fallback for models without a registered tokenizer.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// CountTranscript estimates the token count of a transcript.
func (e *Estimator) CountTranscript(messages []domain.Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.SenderID)
		totalChars += len(msg.Body)
		totalChars += 4 // separators
	}
	return int(float64(totalChars) / e.CharsPerToken)
}

// ModelMatcher helps match model names to tokenizer families.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
