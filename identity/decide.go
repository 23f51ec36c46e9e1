// ABOUTME: Auto-verification decision rules for contacts
// ABOUTME: Pure function from a contact snapshot to Verify, Enqueue or None
package identity

import (
	"github.com/harperreed/rolodex/models"
)

// Decision thresholds.
const (
	AutoVerifyEmailCount = 3
	ReviewEmailCount     = 2
	ReviewConfidence     = 0.85
)

type ActionKind string

const (
	ActionNone    ActionKind = "none"
	ActionVerify  ActionKind = "verify"
	ActionEnqueue ActionKind = "enqueue"
)

// Suggestion is what a reviewer sees for an enqueued contact.
type Suggestion struct {
	SourceType models.SourceType `json:"source_type,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
	Confidence float64           `json:"confidence"`
}

type Action struct {
	Kind       ActionKind  `json:"kind"`
	Method     string      `json:"method,omitempty"`
	Suggestion *Suggestion `json:"suggestion,omitempty"`
}

var noAction = Action{Kind: ActionNone}

// Decide applies the rules in order; the first match wins. Contacts that are
// already pending, verified or rejected always yield None.
func Decide(c models.Contact) Action {
	if c.VerificationStatus != models.StatusUnverified {
		return noAction
	}

	if c.EmailCount >= AutoVerifyEmailCount {
		return Action{Kind: ActionVerify, Method: models.MethodAutoMultipleEmails}
	}

	if c.ConfidenceScore > ReviewConfidence && c.EmailCount >= ReviewEmailCount {
		reasoning := ""
		if r, ok := c.ExtractionMetadata["reasoning"].(string); ok {
			reasoning = r
		}
		return Action{
			Kind: ActionEnqueue,
			Suggestion: &Suggestion{
				SourceType: c.SourceType,
				Tags:       c.Tags,
				Reasoning:  reasoning,
				Confidence: c.ConfidenceScore,
			},
		}
	}

	return noAction
}
