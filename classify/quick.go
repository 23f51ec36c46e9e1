// ABOUTME: Deterministic domain and keyword classifier for observed senders
// ABOUTME: Produces a source type guess, confidence and tags without any I/O
package classify

import (
	"fmt"
	"strings"

	"github.com/harperreed/rolodex/models"
)

// Confidence levels produced by the quick classifier.
const (
	DomainAndKeywordConfidence = 0.9
	DomainOnlyConfidence       = 0.7
	KeywordOnlyConfidence      = 0.6
	NoSignalConfidence         = 0.5
	FallbackConfidence         = 0.3

	// StrongConfidence is the level at or above which the model is not consulted.
	StrongConfidence = 0.7
)

// QuickClassifier is the pure heuristic classifier. The zero value is ready to use.
type QuickClassifier struct{}

func (QuickClassifier) Classify(in Input) QuickMatch {
	domain := models.DomainOf(in.SenderAddress)
	// The address local part is not keyword text; role aliases such as coach@ are not evidence.
	text := strings.Join([]string{in.SignatureText, in.Subject, in.SenderName}, "\n")
	tags := extractTags(in.SignatureText + "\n" + in.Subject)

	if category, ok := lookupDomain(domain); ok && category != models.SourceOther {
		if countMatches(categoryPatterns[category], text) > 0 {
			return QuickMatch{
				Classification: Classification{
					SourceType: category,
					Tags:       tags,
					Confidence: DomainAndKeywordConfidence,
					Reasoning:  fmt.Sprintf("domain %s and %s keywords", domain, category),
				},
				Domain:        domain,
				DomainMatched: true,
			}
		}
		return QuickMatch{
			Classification: Classification{
				SourceType: category,
				Tags:       tags,
				Confidence: DomainOnlyConfidence,
				Reasoning:  fmt.Sprintf("domain %s matches %s", domain, category),
			},
			Domain:        domain,
			DomainMatched: true,
		}
	}

	if category, ok := strongestCategory(text); ok {
		return QuickMatch{
			Classification: Classification{
				SourceType: category,
				Tags:       tags,
				Confidence: KeywordOnlyConfidence,
				Reasoning:  fmt.Sprintf("%s keywords without a known domain", category),
			},
			Domain: domain,
		}
	}

	return QuickMatch{
		Classification: Classification{
			SourceType: models.SourceOther,
			Tags:       tags,
			Confidence: NoSignalConfidence,
			Reasoning:  "no domain or keyword signal",
		},
		Domain: domain,
	}
}
