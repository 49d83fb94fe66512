package polystore

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BackendType names one of the two physical stores
type BackendType string

const (
	BackendSQL   BackendType = "SQL"
	BackendNoSQL BackendType = "NoSQL"
)

// ParseBackendType accepts "SQL" or "NoSQL" in any letter case
func ParseBackendType(s string) (BackendType, error) {
	switch {
	case strings.EqualFold(s, string(BackendSQL)):
		return BackendSQL, nil
	case strings.EqualFold(s, string(BackendNoSQL)):
		return BackendNoSQL, nil
	}
	return "", WithContext(ErrInvalidData, map[string]interface{}{
		"backend": s,
		"reason":  "backend must be SQL or NoSQL",
	})
}

func (b BackendType) String() string { return string(b) }

// Other returns the alternate backend
func (b BackendType) Other() BackendType {
	if b == BackendSQL {
		return BackendNoSQL
	}
	return BackendSQL
}

// Relative backend speeds used by the performance estimate
const (
	sqlWriteSpeed   = 1.0
	sqlReadSpeed    = 0.8
	nosqlWriteSpeed = 0.7
	nosqlReadSpeed  = 1.0
)

const baselineScore = 50.0

// PerformanceEstimate describes the expected speed of the chosen backend
// for the predicted workload.
type PerformanceEstimate struct {
	WritePerformance   string `json:"write_performance"`
	ReadPerformance    string `json:"read_performance"`
	OverallPerformance string `json:"overall_performance"`
	OptimalFor         string `json:"optimal_for"`
}

// AnalysisResult is the outcome of analyzing one document. It is built
// once and never modified afterwards.
type AnalysisResult struct {
	RecommendedBackend BackendType         `json:"recommended_backend"`
	Confidence         int                 `json:"confidence"`
	Reasons            []string            `json:"reasons"`
	SQLScore           float64             `json:"sql_score"`
	NoSQLScore         float64             `json:"nosql_score"`
	Structure          StructureAnalysis   `json:"structure"`
	Patterns           PatternAnalysis     `json:"patterns"`
	Usage              UsagePrediction     `json:"usage"`
	SuggestedSchema    map[string]string   `json:"suggested_schema"`
	Performance        PerformanceEstimate `json:"performance"`
}

// AnalysisSummary is the part of an AnalysisResult kept in the directory
type AnalysisSummary struct {
	RecommendedBackend BackendType `json:"recommended_backend"`
	Confidence         int         `json:"confidence"`
	Reasons            []string    `json:"reasons"`
	SQLScore           float64     `json:"sql_score"`
	NoSQLScore         float64     `json:"nosql_score"`
	UsageType          string      `json:"usage_type"`
}

// Summary returns the directory copy of the result
func (r AnalysisResult) Summary() AnalysisSummary {
	return AnalysisSummary{
		RecommendedBackend: r.RecommendedBackend,
		Confidence:         r.Confidence,
		Reasons:            append([]string(nil), r.Reasons...),
		SQLScore:           r.SQLScore,
		NoSQLScore:         r.NoSQLScore,
		UsageType:          r.Usage.UsageType,
	}
}

// AnalyzeOptions carries the optional caller hints
type AnalyzeOptions struct {
	// Comment is free text describing how the data will be used
	Comment string
	// ReadWriteRatio overrides the predicted ratio when set
	ReadWriteRatio *float64
}

// Analyzer scores documents for SQL and NoSQL suitability
type Analyzer struct {
	logger  Logger
	metrics Metrics
}

// NewAnalyzer creates an analyzer. Nil logger or metrics fall back to no-ops.
func NewAnalyzer(logger Logger, metrics Metrics) *Analyzer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Analyzer{logger: logger, metrics: metrics}
}

// Analyze runs structure, pattern and usage analysis over doc and decides
// on a backend. The result depends only on doc and opts.
func (a *Analyzer) Analyze(doc Value, opts AnalyzeOptions) (AnalysisResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.Timing(MetricAnalyzeDuration, time.Since(start))
	}()

	if r := opts.ReadWriteRatio; r != nil && (math.IsNaN(*r) || math.IsInf(*r, 0) || *r < 0) {
		return AnalysisResult{}, WithContext(ErrAnalysis, map[string]interface{}{
			"read_write_ratio": fmt.Sprint(*r),
			"reason":           "ratio must be a finite non-negative number",
		})
	}

	structure := AnalyzeStructure(doc)
	patterns := AnalyzePatterns(doc, opts.Comment)
	usage := PredictUsage(doc, opts.Comment, opts.ReadWriteRatio)

	sqlScore := scoreSQL(structure, patterns, usage)
	nosqlScore := scoreNoSQL(structure, patterns, usage)
	backend, confidence := decide(sqlScore, nosqlScore)

	result := AnalysisResult{
		RecommendedBackend: backend,
		Confidence:         confidence,
		Reasons:            reasons(backend, structure, usage),
		SQLScore:           sqlScore,
		NoSQLScore:         nosqlScore,
		Structure:          structure,
		Patterns:           patterns,
		Usage:              usage,
		SuggestedSchema:    suggestSchema(doc.Sample()),
		Performance:        estimatePerformance(backend, usage.ReadWriteRatio),
	}

	a.metrics.Histogram(MetricConfidence, float64(confidence))
	a.logger.Debug("document analyzed",
		"recommended", backend,
		"confidence", confidence,
		"sql_score", sqlScore,
		"nosql_score", nosqlScore,
		"usage_type", usage.UsageType,
	)
	return result, nil
}

func scoreSQL(s StructureAnalysis, p PatternAnalysis, u UsagePrediction) float64 {
	score := baselineScore

	switch {
	case s.Depth <= 2:
		score += 15
	case s.Depth <= 3:
		score += 5
	default:
		score -= 10
	}
	if s.IsConsistent {
		score += 20
	}
	if !s.HasNestedObjects {
		score += 15
	}
	if !s.HasArrays {
		score += 10
	}
	if s.HasRelationships {
		score += 15
	}

	if p.HasIDs {
		score += 10
	}
	if p.HasForeignKeys {
		score += 15
	}
	if p.HasTimestamps {
		score += 5
	}

	switch ratio := u.ReadWriteRatio; {
	case ratio < 1.0:
		score += 20 * (1.0 - ratio)
	case ratio > 2.0:
		score -= 10
	}
	if u.UsageType == UsageTransactional {
		score += 25
	}

	if s.RecordCount < 10000 {
		score += 10
	}
	return clampScore(score)
}

func scoreNoSQL(s StructureAnalysis, p PatternAnalysis, u UsagePrediction) float64 {
	score := baselineScore

	switch {
	case s.Depth > 3:
		score += 20
	case s.Depth > 2:
		score += 10
	}
	if s.HasNestedObjects {
		score += 15
	}
	if s.HasArrays {
		score += 15
	}
	if s.ArrayComplexity > 0.5 {
		score += 10
	}
	if !s.IsConsistent {
		score += 20
	}

	if p.MixedTypes {
		score += 10
	}

	switch ratio := u.ReadWriteRatio; {
	case ratio > 2.0:
		score += 15 * (ratio - 1.0)
	case ratio < 1.0:
		score -= 10
	}
	if u.UsageType == UsageAnalytics {
		score += 20
	}

	if s.RecordCount > 10000 {
		score += 15
	}
	if u.GrowthPattern == GrowthHigh {
		score += 15
	}
	return clampScore(score)
}

func clampScore(score float64) float64 {
	return math.Max(0, math.Min(100, score))
}

// decide picks the backend with the strictly higher score. Equal scores
// resolve to NoSQL.
func decide(sqlScore, nosqlScore float64) (BackendType, int) {
	backend, winning := BackendNoSQL, nosqlScore
	if sqlScore > nosqlScore {
		backend, winning = BackendSQL, sqlScore
	}
	total := sqlScore + nosqlScore
	if total == 0 {
		return backend, 50
	}
	return backend, int(math.Round(winning / total * 100))
}

func reasons(backend BackendType, s StructureAnalysis, u UsagePrediction) []string {
	var out []string
	if backend == BackendSQL {
		if s.Depth <= 2 {
			out = append(out, "flat data structure ideal for relational tables")
		}
		if s.IsConsistent {
			out = append(out, "consistent schema across records")
		}
		if s.HasRelationships {
			out = append(out, "detected relationships benefit from SQL joins")
		}
		if u.ReadWriteRatio < 1.0 {
			out = append(out, "write-heavy workload optimized by SQL's fast writes")
		}
		if u.UsageType == UsageTransactional {
			out = append(out, "transactional data requires ACID guarantees")
		}
	} else {
		if s.Depth > 3 {
			out = append(out, "deep nesting handled naturally by document storage")
		}
		if s.HasNestedObjects {
			out = append(out, "nested objects avoid complex SQL joins")
		}
		if !s.IsConsistent {
			out = append(out, "flexible schema accommodates varying structures")
		}
		if u.ReadWriteRatio > 2.0 {
			out = append(out, "read-heavy workload benefits from NoSQL's fast reads")
		}
		if u.GrowthPattern == GrowthHigh {
			out = append(out, "high growth potential favors horizontal scaling")
		}
	}
	if len(out) == 0 {
		out = append(out, fmt.Sprintf("%s selected based on overall analysis", backend))
	}
	return out
}

// suggestSchema maps each field of the sample to a column type name
func suggestSchema(sample Value) map[string]string {
	schema := make(map[string]string)
	if sample.Kind() != ValueObject {
		return schema
	}
	for _, k := range sample.Keys() {
		f, _ := sample.Field(k)
		typ := f.TypeName()
		if typ == "null" {
			typ = "mixed"
		}
		schema[k] = typ
	}
	return schema
}

func estimatePerformance(backend BackendType, ratio float64) PerformanceEstimate {
	write, read := nosqlWriteSpeed, nosqlReadSpeed
	if backend == BackendSQL {
		write, read = sqlWriteSpeed, sqlReadSpeed
	}
	overall := (read*ratio + write) / (ratio + 1)

	optimal := "writes"
	if read > write {
		optimal = "reads"
	}
	return PerformanceEstimate{
		WritePerformance:   percent(write),
		ReadPerformance:    percent(read),
		OverallPerformance: percent(overall),
		OptimalFor:         optimal,
	}
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}
