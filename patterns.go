package polystore

import (
	"regexp"
	"strings"
)

var (
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[A-Z|a-z]{2,}`)
	foreignKeyPattern = regexp.MustCompile(`(_id|Id|ID)$`)

	timestampKeywords = []string{"created", "updated", "timestamp", "date", "time"}
)

// Shape keyword sets. A shape matches when at least two keys contain one
// of its keywords.
var (
	transactionKeywords = []string{"amount", "payment", "order", "transaction", "status", "user_id"}
	logKeywords         = []string{"timestamp", "event", "log", "level", "message", "source"}
	analyticsKeywords   = []string{"metric", "count", "total", "average", "sum", "stats"}
	profileKeywords     = []string{"name", "email", "username", "profile", "user", "account"}
)

// Comment hint names
const (
	HintAnalytics    = "mentions_analytics"
	HintTransactions = "mentions_transactions"
	HintLogs         = "mentions_logs"
	HintProfile      = "mentions_profile"
	HintRealTime     = "mentions_real_time"
)

var hintKeywords = []struct {
	hint     string
	keywords []string
}{
	{HintAnalytics, []string{"analytic", "report", "dashboard"}},
	{HintTransactions, []string{"transaction", "order", "payment"}},
	{HintLogs, []string{"log", "event", "activity"}},
	{HintProfile, []string{"profile", "user", "account"}},
	{HintRealTime, []string{"real-time", "live", "streaming"}},
}

// Field cardinality estimates
const (
	CardinalityHigh    = "high"
	CardinalityLow     = "low"
	CardinalityMedium  = "medium"
	CardinalityUnknown = "unknown"
)

// Shapes flags the keyword-based domain shapes a record matched. The
// flags are independent; a record can match several.
type Shapes struct {
	Transaction bool `json:"transaction"`
	Log         bool `json:"log"`
	Analytics   bool `json:"analytics"`
	Profile     bool `json:"profile"`
}

// PatternAnalysis holds the semantic hints found in a document
type PatternAnalysis struct {
	HasIDs               bool            `json:"has_ids"`
	HasTimestamps        bool            `json:"has_timestamps"`
	HasEmails            bool            `json:"has_emails"`
	HasForeignKeys       bool            `json:"has_foreign_keys"`
	DataTypeDistribution map[string]int  `json:"data_type_distribution"`
	MixedTypes           bool            `json:"mixed_types"`
	FieldCardinality     string          `json:"field_cardinality"`
	Shapes               Shapes          `json:"shapes"`
	UserHints            map[string]bool `json:"user_hints"`
}

// AnalyzePatterns inspects the representative record of doc and the
// optional usage comment.
func AnalyzePatterns(doc Value, comment string) PatternAnalysis {
	sample := doc.Sample()
	distribution := typeDistribution(sample)

	return PatternAnalysis{
		HasIDs:               hasIDField(sample),
		HasTimestamps:        hasTimestampField(sample),
		HasEmails:            emailPattern.MatchString(sample.String()),
		HasForeignKeys:       hasForeignKey(sample),
		DataTypeDistribution: distribution,
		MixedTypes:           len(distribution) > 3,
		FieldCardinality:     cardinality(doc),
		Shapes:               classifyShapes(sample),
		UserHints:            commentHints(comment),
	}
}

func hasTimestampField(v Value) bool {
	if v.Kind() != ValueObject {
		return false
	}
	for _, k := range v.Keys() {
		if containsAny(strings.ToLower(k), timestampKeywords) {
			return true
		}
	}
	return false
}

func hasForeignKey(v Value) bool {
	if v.Kind() != ValueObject {
		return false
	}
	for _, k := range v.Keys() {
		if foreignKeyPattern.MatchString(k) {
			return true
		}
	}
	return false
}

func typeDistribution(v Value) map[string]int {
	dist := make(map[string]int)
	if v.Kind() != ValueObject {
		return dist
	}
	for _, k := range v.Keys() {
		f, _ := v.Field(k)
		dist[f.TypeName()]++
	}
	return dist
}

// cardinality estimates how distinct the values of the first record are
func cardinality(doc Value) string {
	if doc.Kind() != ValueArray || doc.Len() == 0 {
		return CardinalityUnknown
	}
	first := doc.Index(0)
	if first.Kind() != ValueObject {
		return CardinalityMedium
	}
	distinct := make(map[string]struct{}, first.Len())
	for _, k := range first.Keys() {
		f, _ := first.Field(k)
		distinct[f.String()] = struct{}{}
	}
	if float64(len(distinct)) > 0.7*float64(first.Len()) {
		return CardinalityHigh
	}
	return CardinalityLow
}

func classifyShapes(v Value) Shapes {
	return Shapes{
		Transaction: keywordHits(v, transactionKeywords) >= 2,
		Log:         keywordHits(v, logKeywords) >= 2,
		Analytics:   keywordHits(v, analyticsKeywords) >= 2,
		Profile:     keywordHits(v, profileKeywords) >= 2,
	}
}

// keywordHits counts the keys of v that contain at least one keyword
func keywordHits(v Value, keywords []string) int {
	if v.Kind() != ValueObject {
		return 0
	}
	hits := 0
	for _, k := range v.Keys() {
		if containsAny(strings.ToLower(k), keywords) {
			hits++
		}
	}
	return hits
}

func commentHints(comment string) map[string]bool {
	hints := make(map[string]bool)
	if comment == "" {
		return hints
	}
	lower := strings.ToLower(comment)
	for _, h := range hintKeywords {
		hints[h.hint] = containsAny(lower, h.keywords)
	}
	return hints
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
