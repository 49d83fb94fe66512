package polystore

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	productsDoc = `[{"id":1,"name":"Laptop","price":999.99},{"id":2,"name":"Mouse","price":29.99}]`
	profileDoc  = `{"user_profile":{"personal":{"name":{"first":"Alice"}}},"contacts":[{"type":"email","value":"a@x.com"}],"tags":["a"]}`
)

func analyze(t *testing.T, doc string, opts AnalyzeOptions) AnalysisResult {
	t.Helper()
	result, err := NewAnalyzer(nil, nil).Analyze(mustParse(t, doc), opts)
	if err != nil {
		t.Fatalf("Analyze(%s): %v", doc, err)
	}
	return result
}

func ratio(f float64) *float64 { return &f }

func TestAnalyzeFlatConsistentListPrefersSQL(t *testing.T) {
	result := analyze(t, productsDoc, AnalyzeOptions{})

	if result.RecommendedBackend != BackendSQL {
		t.Fatalf("backend = %s, want SQL", result.RecommendedBackend)
	}
	if result.SQLScore != 100 || result.NoSQLScore != 50 {
		t.Errorf("scores = %v/%v, want 100/50", result.SQLScore, result.NoSQLScore)
	}
	if result.Confidence != 67 {
		t.Errorf("confidence = %d, want 67", result.Confidence)
	}
	wantReasons := []string{
		"flat data structure ideal for relational tables",
		"consistent schema across records",
	}
	if !reflect.DeepEqual(result.Reasons, wantReasons) {
		t.Errorf("reasons = %q, want %q", result.Reasons, wantReasons)
	}
	wantSchema := map[string]string{"id": "integer", "name": "string", "price": "float"}
	if !reflect.DeepEqual(result.SuggestedSchema, wantSchema) {
		t.Errorf("schema = %v, want %v", result.SuggestedSchema, wantSchema)
	}
	if result.Structure.RecordCount != 2 || result.Structure.FieldCount != 3 {
		t.Errorf("structure = %+v", result.Structure)
	}
}

func TestAnalyzeNestedProfilePrefersNoSQL(t *testing.T) {
	result := analyze(t, profileDoc, AnalyzeOptions{})

	if result.RecommendedBackend != BackendNoSQL {
		t.Fatalf("backend = %s, want NoSQL", result.RecommendedBackend)
	}
	if result.SQLScore != 70 || result.NoSQLScore != 100 {
		t.Errorf("scores = %v/%v, want 70/100", result.SQLScore, result.NoSQLScore)
	}
	if result.Confidence != 59 {
		t.Errorf("confidence = %d, want 59", result.Confidence)
	}
	if result.Structure.Depth != 4 {
		t.Errorf("depth = %d, want 4", result.Structure.Depth)
	}
	if result.Structure.ArrayComplexity != 0.5 {
		t.Errorf("array complexity = %v, want 0.5", result.Structure.ArrayComplexity)
	}
	joined := strings.Join(result.Reasons, "; ")
	for _, want := range []string{"deep nesting", "nested objects avoid complex SQL joins"} {
		if !strings.Contains(joined, want) {
			t.Errorf("reasons %q missing %q", joined, want)
		}
	}
	if !result.Patterns.HasEmails {
		t.Error("email in contacts should be detected")
	}
}

func TestAnalyzeTieResolvesToNoSQL(t *testing.T) {
	if backend, confidence := decide(60, 60); backend != BackendNoSQL || confidence != 50 {
		t.Errorf("decide(60,60) = %s/%d, want NoSQL/50", backend, confidence)
	}
	if backend, _ := decide(60.5, 60); backend != BackendSQL {
		t.Errorf("decide(60.5,60) = %s, want SQL", backend)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	docs := []string{productsDoc, profileDoc, `{"amount":5,"status":"ok","user_id":3}`, `[]`, `"scalar"`}
	for _, doc := range docs {
		opts := AnalyzeOptions{Comment: "daily report", ReadWriteRatio: nil}
		first := analyze(t, doc, opts)
		for i := 0; i < 5; i++ {
			if again := analyze(t, doc, opts); !reflect.DeepEqual(first, again) {
				t.Fatalf("analysis of %s is not deterministic", doc)
			}
		}
	}
}

func TestAnalyzeScoresStayInBounds(t *testing.T) {
	docs := []string{
		productsDoc,
		profileDoc,
		`{"a":{"b":{"c":{"d":{"e":{"f":1}}}}},"l":[[1]],"m":[{"x":1}],"s":"x","n":null,"t":true}`,
		`{"order_id":1,"user_id":2,"amount":3,"payment":"card","created_at":"2024-01-01"}`,
		`[{"a":1},{"b":2},{"c":3}]`,
		`null`,
	}
	ratios := []*float64{nil, ratio(0), ratio(0.2), ratio(50), ratio(1000)}

	for _, doc := range docs {
		for _, r := range ratios {
			result := analyze(t, doc, AnalyzeOptions{ReadWriteRatio: r})
			for name, score := range map[string]float64{"sql": result.SQLScore, "nosql": result.NoSQLScore} {
				if score < 0 || score > 100 {
					t.Errorf("%s score %v out of range for %s", name, score, doc)
				}
			}
			if result.Confidence < 50 || result.Confidence > 100 {
				t.Errorf("confidence %d out of range for %s", result.Confidence, doc)
			}
		}
	}
}

func TestAnalyzeTransactionShape(t *testing.T) {
	doc := `{"order_id":"o-1","user_id":"u-1","amount":10.5,"status":"paid","created_at":"2024-01-01T00:00:00Z"}`
	result := analyze(t, doc, AnalyzeOptions{})

	if !result.Patterns.Shapes.Transaction {
		t.Fatal("transaction shape should match")
	}
	if result.Usage.ReadWriteRatio != 0.8 || result.Usage.UsageType != UsageTransactional {
		t.Errorf("usage = %+v, want ratio 0.8 transactional", result.Usage)
	}
	if result.RecommendedBackend != BackendSQL {
		t.Errorf("backend = %s, want SQL", result.RecommendedBackend)
	}
	if result.Reasons[len(result.Reasons)-1] != "transactional data requires ACID guarantees" {
		t.Errorf("reasons = %q", result.Reasons)
	}
	wantQueries := []string{"key-value lookup", "time-range queries"}
	if !reflect.DeepEqual(result.Usage.ExpectedQueryKinds, wantQueries) {
		t.Errorf("queries = %q, want %q", result.Usage.ExpectedQueryKinds, wantQueries)
	}
}

func TestPredictUsageRatios(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		comment string
		ratio   *float64
		want    float64
		usage   string
	}{
		{"default", `{"a":1}`, "", nil, 1.5, UsageBalanced},
		{"log shape", `{"timestamp":1,"level":"info","message":"m"}`, "", nil, 0.5, UsageTransactional},
		{"analytics shape", `{"metric":"x","total":3}`, "", nil, 3.0, UsageAnalytics},
		{"profile shape", `{"username":"a","email":"a@b.co"}`, "", nil, 1.8, UsageBalanced},
		{"transaction beats log", `{"amount":1,"status":"x","timestamp":1,"level":2}`, "", nil, 0.8, UsageTransactional},
		{"report comment", `{"a":1}`, "weekly Report", nil, 2.5, UsageAnalytics},
		{"payment comment", `{"a":1}`, "payment feed", nil, 1.0, UsageBalanced},
		{"report wins over payment", `{"a":1}`, "payment report", nil, 2.5, UsageAnalytics},
		{"explicit ratio ignores hints", `{"metric":"x","total":3}`, "report", ratio(0.3), 0.3, UsageWriteIntensive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PredictUsage(mustParse(t, tt.doc), tt.comment, tt.ratio)
			if math.Abs(got.ReadWriteRatio-tt.want) > 1e-9 {
				t.Errorf("ratio = %v, want %v", got.ReadWriteRatio, tt.want)
			}
			if got.UsageType != tt.usage {
				t.Errorf("usage type = %q, want %q", got.UsageType, tt.usage)
			}
		})
	}
}

func TestGrowthPattern(t *testing.T) {
	tests := []struct {
		records int
		want    string
	}{
		{1, GrowthLow}, {1000, GrowthLow}, {1001, GrowthMedium}, {10000, GrowthMedium}, {10001, GrowthHigh},
	}
	for _, tt := range tests {
		if got := growth(tt.records); got != tt.want {
			t.Errorf("growth(%d) = %q, want %q", tt.records, got, tt.want)
		}
	}
}

func TestAnalyzeStructureEdges(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		depth      int
		consistent bool
		relations  bool
	}{
		{"scalar", `5`, 0, true, false},
		{"empty object", `{}`, 0, true, false},
		{"empty list", `[]`, 0, true, false},
		{"flat", `{"a":1}`, 1, true, false},
		{"list in object", `{"a":[{"b":1}]}`, 2, true, false},
		{"inconsistent list", `[{"a":1},{"b":1}]`, 1, false, false},
		{"non-object elements skipped", `[{"a":1},3,{"a":2}]`, 1, true, false},
		{"customer id", `{"customer_id":1}`, 1, true, true},
		{"bare id is not relational", `{"id":1}`, 1, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := AnalyzeStructure(mustParse(t, tt.doc))
			if s.Depth != tt.depth {
				t.Errorf("depth = %d, want %d", s.Depth, tt.depth)
			}
			if s.IsConsistent != tt.consistent {
				t.Errorf("consistent = %v, want %v", s.IsConsistent, tt.consistent)
			}
			if s.HasRelationships != tt.relations {
				t.Errorf("relationships = %v, want %v", s.HasRelationships, tt.relations)
			}
		})
	}
}

func TestAnalyzePatternsHints(t *testing.T) {
	p := AnalyzePatterns(mustParse(t, `{"a":1}`), "Live dashboard of user activity")
	want := map[string]bool{
		HintAnalytics:    true,
		HintTransactions: false,
		HintLogs:         true,
		HintProfile:      true,
		HintRealTime:     true,
	}
	if !reflect.DeepEqual(p.UserHints, want) {
		t.Errorf("hints = %v, want %v", p.UserHints, want)
	}
	if len(AnalyzePatterns(mustParse(t, `{"a":1}`), "").UserHints) != 0 {
		t.Error("no comment should give no hints")
	}
}

func TestAnalyzePatternsTypesAndCardinality(t *testing.T) {
	p := AnalyzePatterns(mustParse(t, `[{"a":1,"b":1.5,"c":"x","d":true,"e":null}]`), "")
	if !p.MixedTypes {
		t.Errorf("distribution %v should count as mixed", p.DataTypeDistribution)
	}
	if p.FieldCardinality != CardinalityHigh {
		t.Errorf("cardinality = %q, want high", p.FieldCardinality)
	}

	low := AnalyzePatterns(mustParse(t, `[{"a":1,"b":1,"c":1}]`), "")
	if low.FieldCardinality != CardinalityLow {
		t.Errorf("cardinality = %q, want low", low.FieldCardinality)
	}
	if got := AnalyzePatterns(mustParse(t, `[1,2]`), "").FieldCardinality; got != CardinalityMedium {
		t.Errorf("cardinality = %q, want medium", got)
	}
	if got := AnalyzePatterns(mustParse(t, `{"a":1}`), "").FieldCardinality; got != CardinalityUnknown {
		t.Errorf("cardinality = %q, want unknown", got)
	}

	fk := AnalyzePatterns(mustParse(t, `{"customerId":1}`), "")
	if !fk.HasForeignKeys {
		t.Error("customerId should count as a foreign key")
	}
	if AnalyzePatterns(mustParse(t, `{"identity":1}`), "").HasForeignKeys {
		t.Error("identity is not a foreign key")
	}
}

func TestAnalyzeRejectsInvalidRatio(t *testing.T) {
	for _, r := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := NewAnalyzer(nil, nil).Analyze(mustParse(t, `{"a":1}`), AnalyzeOptions{ReadWriteRatio: ratio(r)})
		if !errors.Is(err, ErrAnalysis) {
			t.Errorf("ratio %v: error = %v, want ErrAnalysis", r, err)
		}
	}
}

func TestPerformanceEstimate(t *testing.T) {
	sql := estimatePerformance(BackendSQL, 1.5)
	if sql.WritePerformance != "100%" || sql.ReadPerformance != "80%" || sql.OverallPerformance != "88%" || sql.OptimalFor != "writes" {
		t.Errorf("SQL estimate = %+v", sql)
	}
	nosql := estimatePerformance(BackendNoSQL, 4)
	if nosql.OverallPerformance != "94%" || nosql.OptimalFor != "reads" {
		t.Errorf("NoSQL estimate = %+v", nosql)
	}
}

func TestAnalyzerLogsAndRecordsMetrics(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	metrics := NewInMemoryMetrics()
	analyzer := NewAnalyzer(NewZapLogger(zap.New(core)), metrics)

	if _, err := analyzer.Analyze(mustParse(t, productsDoc), AnalyzeOptions{}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if metrics.TimingCount(MetricAnalyzeDuration) != 1 {
		t.Error("analyze duration not recorded")
	}
	entries := logs.FilterMessage("document analyzed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["recommended"] != "SQL" {
		t.Errorf("log context = %v", entries[0].ContextMap())
	}
}

func TestParseBackendType(t *testing.T) {
	if b, err := ParseBackendType("nosql"); err != nil || b != BackendNoSQL {
		t.Errorf("ParseBackendType(nosql) = %v, %v", b, err)
	}
	if _, err := ParseBackendType("graph"); !errors.Is(err, ErrInvalidData) {
		t.Errorf("expected ErrInvalidData, got %v", err)
	}
	if BackendSQL.Other() != BackendNoSQL || BackendNoSQL.Other() != BackendSQL {
		t.Error("Other() mismatch")
	}
}
