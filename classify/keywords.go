// ABOUTME: Curated domain tables and keyword lists for the quick classifier
// ABOUTME: Maps sender domains and signature words to source types and tags
package classify

import (
	"regexp"
	"strings"

	"github.com/harperreed/rolodex/models"
)

// domainTable maps well-known hosts (and their subdomains) to a source type.
var domainTable = map[string]models.SourceType{
	// youth sports directory platforms
	"teamsnap.com":     models.SourceCoach,
	"sportsengine.com": models.SourceCoach,
	"leagueapps.com":   models.SourceCoach,
	"gamechanger.io":   models.SourceCoach,
	"teamreach.com":    models.SourceCoach,
	"heja.io":          models.SourceCoach,
	"spond.com":        models.SourceCoach,
	"byga.net":         models.SourceCoach,
	"playmetrics.com":  models.SourceCoach,
	"demosphere.com":   models.SourceCoach,
	"bluesombrero.com": models.SourceCoach,
	"stacksports.com":  models.SourceCoach,

	// classroom platforms
	"classdojo.com":   models.SourceTeacher,
	"seesaw.me":       models.SourceTeacher,
	"schoology.com":   models.SourceTeacher,
	"remind.com":      models.SourceTeacher,
	"instructure.com": models.SourceTeacher,

	// district and school messaging
	"parentsquare.com":    models.SourceSchoolAdmin,
	"schoolmessenger.com": models.SourceSchoolAdmin,
	"finalsite.com":       models.SourceSchoolAdmin,
	"powerschool.com":     models.SourceSchoolAdmin,
	"infinitecampus.com":  models.SourceSchoolAdmin,
	"blackbaud.com":       models.SourceSchoolAdmin,

	// patient portals
	"mychart.com":        models.SourceMedical,
	"athenahealth.com":   models.SourceMedical,
	"zocdoc.com":         models.SourceMedical,
	"followmyhealth.com": models.SourceMedical,

	// practice management for therapists
	"simplepractice.com": models.SourceTherapist,
	"therapynotes.com":   models.SourceTherapist,

	// activity clubs
	"scouting.org": models.SourceClub,
	"ymca.net":     models.SourceClub,

	// payments and sign-ups
	"squareup.com":   models.SourceVendor,
	"eventbrite.com": models.SourceVendor,
	"paypal.com":     models.SourceVendor,
}

// domainWord matches a fragment of the domain's labels. Short fragments must
// equal a whole label token to avoid accidental substring hits.
type domainWord struct {
	fragment   string
	sourceType models.SourceType
}

var domainWords = []domainWord{
	{"district", models.SourceSchoolAdmin},
	{"schools", models.SourceSchoolAdmin},
	{"isd", models.SourceSchoolAdmin},
	{"usd", models.SourceSchoolAdmin},
	{"pediatric", models.SourceMedical},
	{"health", models.SourceMedical},
	{"medical", models.SourceMedical},
	{"clinic", models.SourceMedical},
	{"hospital", models.SourceMedical},
	{"dental", models.SourceMedical},
	{"therapy", models.SourceTherapist},
	{"counseling", models.SourceTherapist},
	{"league", models.SourceTeam},
	{"soccer", models.SourceTeam},
	{"athletic", models.SourceTeam},
	{"sports", models.SourceTeam},
	{"fc", models.SourceTeam},
	{"club", models.SourceClub},
	{"scouts", models.SourceClub},
	{"ymca", models.SourceClub},
}

// categoryKeywords are the role words looked for in signatures, subjects and
// sender names.
var categoryKeywords = map[models.SourceType][]string{
	models.SourceCoach:       {"coach", "head coach", "assistant coach", "practice", "tryouts", "roster", "trainer"},
	models.SourceTeacher:     {"teacher", "classroom", "homework", "grade", "mrs", "mr", "ms", "room", "lesson plan"},
	models.SourceSchoolAdmin: {"principal", "registrar", "front office", "attendance", "superintendent", "enrollment", "school office", "pta"},
	models.SourceTeam:        {"team manager", "team parent", "league", "tournament", "game day", "team schedule"},
	models.SourceClub:        {"club", "troop", "scout", "membership", "den leader"},
	models.SourceTherapist:   {"therapist", "lcsw", "lmft", "counselor", "psychologist", "therapy session"},
	models.SourceMedical:     {"md", "dds", "pediatrician", "appointment", "clinic", "nurse", "patient", "physician"},
	models.SourceVendor:      {"invoice", "receipt", "order", "billing", "customer service", "payment"},
}

// categoryOrder breaks ties between equally strong keyword categories.
var categoryOrder = []models.SourceType{
	models.SourceCoach,
	models.SourceTeacher,
	models.SourceSchoolAdmin,
	models.SourceTeam,
	models.SourceClub,
	models.SourceTherapist,
	models.SourceMedical,
	models.SourceVendor,
}

var tagKeywords = []string{
	// sports
	"soccer", "baseball", "softball", "basketball", "football", "hockey", "lacrosse", "swimming",
	"tennis", "volleyball", "gymnastics", "track", "wrestling", "golf", "karate", "dance", "ballet",
	// academic subjects
	"math", "science", "english", "reading", "history", "spanish", "french", "chemistry",
	"biology", "physics", "art", "music",
	// activities
	"band", "choir", "orchestra", "piano", "violin", "chess", "robotics", "debate", "theater",
	"tutoring", "camp", "scouts",
}

var (
	categoryPatterns = compileCategoryPatterns()
	tagPatterns      = compileWordPatterns(tagKeywords)
)

func compileCategoryPatterns() map[models.SourceType][]*regexp.Regexp {
	out := make(map[models.SourceType][]*regexp.Regexp, len(categoryKeywords))
	for t, words := range categoryKeywords {
		out[t] = compileWordPatterns(words)
	}
	return out
}

func compileWordPatterns(words []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return patterns
}

// lookupDomain returns the category of a domain, checking exact hosts,
// parent hosts, education suffixes and finally label fragments.
func lookupDomain(domain string) (models.SourceType, bool) {
	if domain == "" {
		return models.SourceOther, false
	}

	host := domain
	for {
		if t, ok := domainTable[host]; ok {
			return t, true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
		if !strings.Contains(host, ".") {
			break
		}
	}

	if strings.HasSuffix(domain, ".edu") || strings.Contains(domain, "k12.") {
		return models.SourceTeacher, true
	}

	// Ignore the public suffix when looking at label fragments.
	labels := strings.Split(domain, ".")
	if len(labels) > 1 {
		labels = labels[:len(labels)-1]
	}
	tokens := make([]string, 0, len(labels))
	for _, l := range labels {
		tokens = append(tokens, strings.Split(l, "-")...)
	}

	for _, w := range domainWords {
		for _, tok := range tokens {
			if tok == w.fragment || (len(w.fragment) >= 5 && strings.Contains(tok, w.fragment)) {
				return w.sourceType, true
			}
		}
	}

	return models.SourceOther, false
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			n++
		}
	}
	return n
}

// strongestCategory returns the category with the most keyword hits in text.
func strongestCategory(text string) (models.SourceType, bool) {
	best := models.SourceOther
	bestHits := 0
	for _, t := range categoryOrder {
		if hits := countMatches(categoryPatterns[t], text); hits > bestHits {
			best, bestHits = t, hits
		}
	}
	return best, bestHits > 0
}

func extractTags(text string) []string {
	var tags []string
	for i, p := range tagPatterns {
		if p.MatchString(text) {
			tags = append(tags, tagKeywords[i])
		}
	}
	return models.NormalizeTags(tags)
}
