// ABOUTME: Classification inputs and the tagged result variants
// ABOUTME: QuickMatch, AIMatch and Fallback share one (type, tags, confidence, reasoning) contract
package classify

import (
	"github.com/harperreed/rolodex/models"
)

// Input is one observed occurrence of a sender.
type Input struct {
	SenderAddress string
	SenderName    string
	Subject       string
	// SignatureText is the signature block or body excerpt of the message.
	SignatureText string
}

// Classification is the common payload of every result variant.
type Classification struct {
	SourceType models.SourceType `json:"source_type"`
	Tags       []string          `json:"tags,omitempty"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// Result is implemented by QuickMatch, AIMatch and Fallback. Callers switch
// on the concrete type.
type Result interface {
	Classified() Classification
	Kind() string
}

// QuickMatch comes from the deterministic domain and keyword heuristic.
type QuickMatch struct {
	Classification
	Domain        string
	DomainMatched bool
}

func (q QuickMatch) Classified() Classification { return q.Classification }
func (QuickMatch) Kind() string { return "quick" }

// Weak reports whether the heuristic is unsure enough to consult the model.
func (q QuickMatch) Weak() bool {
	return q.SourceType == models.SourceOther || q.Confidence < StrongConfidence
}

// AIMatch comes from a successful language-model classification.
type AIMatch struct {
	Classification
	Model string
}

func (a AIMatch) Classified() Classification { return a.Classification }
func (AIMatch) Kind() string { return "ai" }

// Fallback is the quick result degraded after the model could not answer.
type Fallback struct {
	Classification
	Cause error
}

func (f Fallback) Classified() Classification { return f.Classification }
func (Fallback) Kind() string { return "fallback" }

// Metadata renders a result as the contact's extraction metadata.
func Metadata(r Result) map[string]any {
	c := r.Classified()
	m := map[string]any{
		"classifier": r.Kind(),
		"confidence": c.Confidence,
	}
	if c.Reasoning != "" {
		m["reasoning"] = c.Reasoning
	}
	switch v := r.(type) {
	case QuickMatch:
		m["domain_matched"] = v.DomainMatched
	case AIMatch:
		m["model"] = v.Model
	case Fallback:
		if v.Cause != nil {
			m["fallback_cause"] = v.Cause.Error()
		}
	}
	return m
}
