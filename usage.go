package polystore

import "strings"

// Usage types derived from the read/write ratio
const (
	UsageWriteIntensive = "write_intensive"
	UsageTransactional  = "transactional"
	UsageBalanced       = "balanced"
	UsageAnalytics      = "analytics"
)

// Growth patterns derived from the record count
const (
	GrowthHigh   = "high"
	GrowthMedium = "medium"
	GrowthLow    = "low"
)

// DefaultReadWriteRatio is the predicted ratio for documents that match
// no shape and carry no usage comment.
const DefaultReadWriteRatio = 1.5

// UsagePrediction is the expected access pattern of a document
type UsagePrediction struct {
	ReadWriteRatio     float64  `json:"read_write_ratio"`
	UsageType          string   `json:"usage_type"`
	ExpectedQueryKinds []string `json:"expected_query_kinds"`
	GrowthPattern      string   `json:"growth_pattern"`
}

// PredictUsage estimates the read/write ratio of doc. A non-nil
// explicitRatio is used verbatim and disables every heuristic.
func PredictUsage(doc Value, comment string, explicitRatio *float64) UsagePrediction {
	sample := doc.Sample()

	var ratio float64
	if explicitRatio != nil {
		ratio = *explicitRatio
	} else {
		ratio = predictRatio(sample, comment)
	}

	records := 1
	if doc.Kind() == ValueArray {
		records = doc.Len()
	}

	return UsagePrediction{
		ReadWriteRatio:     ratio,
		UsageType:          classifyUsage(ratio),
		ExpectedQueryKinds: queryKinds(sample),
		GrowthPattern:      growth(records),
	}
}

// predictRatio sets a base ratio from the first matching shape, in
// priority order, then shifts it by the usage comment.
func predictRatio(sample Value, comment string) float64 {
	ratio := DefaultReadWriteRatio

	shapes := classifyShapes(sample)
	switch {
	case shapes.Transaction:
		ratio = 0.8
	case shapes.Log:
		ratio = 0.5
	case shapes.Analytics:
		ratio = 3.0
	case shapes.Profile:
		ratio = 1.8
	}

	lower := strings.ToLower(comment)
	switch {
	case strings.Contains(lower, "report"), strings.Contains(lower, "analytics"):
		ratio += 1.0
	case strings.Contains(lower, "transaction"), strings.Contains(lower, "payment"):
		ratio -= 0.5
	}
	return ratio
}

func classifyUsage(ratio float64) string {
	switch {
	case ratio < 0.5:
		return UsageWriteIntensive
	case ratio < 1.0:
		return UsageTransactional
	case ratio < 2.0:
		return UsageBalanced
	default:
		return UsageAnalytics
	}
}

func growth(records int) string {
	switch {
	case records > 10000:
		return GrowthHigh
	case records > 1000:
		return GrowthMedium
	default:
		return GrowthLow
	}
}

func queryKinds(sample Value) []string {
	if sample.Kind() != ValueObject {
		return []string{"simple"}
	}
	var kinds []string
	if hasIDField(sample) {
		kinds = append(kinds, "key-value lookup")
	}
	if hasTimestampField(sample) {
		kinds = append(kinds, "time-range queries")
	}
	if hasFieldOfKind(sample, ValueObject) {
		kinds = append(kinds, "document traversal")
	}
	if sample.Len() > 10 {
		kinds = append(kinds, "complex filtering")
	}
	if len(kinds) == 0 {
		return []string{"simple queries"}
	}
	return kinds
}
