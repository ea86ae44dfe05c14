package privacy

import (
	"regexp"
	"strings"
)

// MinGlobalConfidence is the lowest confidence a claim may carry and still be
// promoted to LevelGlobal.
const MinGlobalConfidence = 0.9

const semanticType = "semantic"

// Claim is the subset of an extracted fact the classifier needs.
type Claim struct {
	Summary      string
	MemoryType   string
	Confidence   float64
	GloballySafe bool
}

// ClassifyContext maps a conversation context to a privacy level.
// Unknown context kinds fall back to LevelChannelRestricted.
func ClassifyContext(c Context) Level {
	switch c.Kind {
	case KindDirectMessage:
		return LevelDM
	case KindGuildChannel, KindGuildThread:
		if c.GuildID == "" || c.ChannelID == "" {
			return LevelChannelRestricted
		}
		if c.EveryoneCanRead != nil && *c.EveryoneCanRead {
			return LevelGuildPublic
		}
		return LevelChannelRestricted
	default:
		return LevelChannelRestricted
	}
}

// ClassifyMemory returns LevelGlobal only when the claim asserts it is
// globally safe and independently passes Validate. Otherwise the context
// level is inherited unchanged.
func ClassifyMemory(claim Claim, contextLevel Level) Level {
	if !contextLevel.Valid() {
		contextLevel = LevelChannelRestricted
	}
	if !claim.GloballySafe {
		return contextLevel
	}
	if ok, _ := Validate(claim); !ok {
		return contextLevel
	}
	return LevelGlobal
}

// Validate checks whether a claim is eligible for LevelGlobal regardless of
// what the extractor asserted. The returned reason is empty when ok.
func Validate(claim Claim) (bool, string) {
	if claim.MemoryType != semanticType {
		return false, "not semantic"
	}
	if claim.Confidence < MinGlobalConfidence {
		return false, "confidence below global threshold"
	}
	summary := strings.ToLower(strings.TrimSpace(claim.Summary))
	if summary == "" {
		return false, "empty summary"
	}
	if term := deniedTerm(summary); term != "" {
		return false, "sensitive topic: " + term
	}
	if !allowedFact(summary) {
		return false, "no declared-fact pattern"
	}
	return true, ""
}

// Sensitive-topic stems. Matched at word start so "health" also catches
// "healthcare" while "ign" never matches inside "design".
var denyStems = []string{
	"health", "medical", "medicat", "diagnos", "therap", "depress", "anxiety",
	"suicid", "self-harm", "selfharm", "overdose", "addict", "rehab", "sober",
	"pregnan", "abortion", "disab", "illness", "cancer",
	"religio", "church", "mosque", "sexual", "sexuality", "gay", "lesbian",
	"bisexual", "transgender", "politic", "democrat", "republican",
	"address", "home address", "phone", "password", "ssn", "social security",
	"salary", "income", "debt", "bank", "credit card", "divorce", "breakup",
	"arrest", "criminal", "lawsuit", "immigra", "visa status", "abuse",
	"struggl", "grief", "funeral", "died", "death",
}

var denyPattern = regexp.MustCompile(`\b(` + strings.Join(quoteAll(denyStems), "|") + `)`)

var allowPatterns = []*regexp.Regexp{
	// identifiers
	regexp.MustCompile(`\b(ign|in-game name|username|user name|handle|gamertag|gamer tag|nickname|nick|steam id|steamid|friend code|account name|github|discord tag|battletag|riot id|player id)\b`),
	// timezone
	regexp.MustCompile(`\b(timezone|time zone|utc|gmt|pst|pdt|est|edt|cst|cdt|mst|mdt|cet|cest|bst|jst|aest)\b`),
	// language and tool preference
	regexp.MustCompile(`\b(prefers?|preferred|preference|favou?rite|uses|codes in|programs in|writes in|speaks|native language|language|editor|ide|os of choice|main[s]?)\b`),
}

func deniedTerm(summary string) string {
	return denyPattern.FindString(summary)
}

func allowedFact(summary string) bool {
	for _, p := range allowPatterns {
		if p.MatchString(summary) {
			return true
		}
	}
	return false
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = regexp.QuoteMeta(s)
	}
	return out
}
