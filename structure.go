package polystore

import "regexp"

// idFieldPattern matches identifier-like keys such as user_id or orderid
var idFieldPattern = regexp.MustCompile(`(?i)^[a-z_]+_?id$`)

// StructureAnalysis holds the shape metrics of a document
type StructureAnalysis struct {
	Depth            int     `json:"depth"`
	FieldCount       int     `json:"field_count"`
	HasNestedObjects bool    `json:"has_nested_objects"`
	HasArrays        bool    `json:"has_arrays"`
	ArrayComplexity  float64 `json:"array_complexity"`
	IsConsistent     bool    `json:"is_consistent"`
	HasRelationships bool    `json:"has_relationship_like_fields"`
	DataSizeBytes    int     `json:"data_size_bytes"`
	RecordCount      int     `json:"record_count"`
}

// AnalyzeStructure computes shape metrics over doc. Arrays are measured
// through their first element.
func AnalyzeStructure(doc Value) StructureAnalysis {
	sample := doc.Sample()

	size := len(doc.String())
	records := 1
	if doc.Kind() == ValueArray {
		records = doc.Len()
	}

	return StructureAnalysis{
		Depth:            depth(sample, 0),
		FieldCount:       fieldCount(sample),
		HasNestedObjects: hasFieldOfKind(sample, ValueObject),
		HasArrays:        hasFieldOfKind(sample, ValueArray),
		ArrayComplexity:  arrayComplexity(sample),
		IsConsistent:     isConsistent(doc),
		HasRelationships: hasIDField(sample),
		DataSizeBytes:    size,
		RecordCount:      records,
	}
}

// depth counts object levels. Arrays do not add a level of their own.
func depth(v Value, current int) int {
	switch v.Kind() {
	case ValueObject:
		if v.Len() == 0 {
			return current
		}
		deepest := 0
		for _, k := range v.Keys() {
			f, _ := v.Field(k)
			if d := depth(f, current+1); d > deepest {
				deepest = d
			}
		}
		return deepest
	case ValueArray:
		if v.Len() == 0 {
			return current
		}
		deepest := 0
		for _, item := range v.Elems() {
			if d := depth(item, current); d > deepest {
				deepest = d
			}
		}
		return deepest
	}
	return current
}

func fieldCount(v Value) int {
	if v.Kind() != ValueObject {
		return 0
	}
	return v.Len()
}

func hasFieldOfKind(v Value, kind ValueKind) bool {
	if v.Kind() != ValueObject {
		return false
	}
	for _, k := range v.Keys() {
		if f, _ := v.Field(k); f.Kind() == kind {
			return true
		}
	}
	return false
}

// arrayComplexity is the share of array fields whose first element is
// itself an object or array.
func arrayComplexity(v Value) float64 {
	if v.Kind() != ValueObject {
		return 0
	}
	arrays, nested := 0, 0
	for _, k := range v.Keys() {
		f, _ := v.Field(k)
		if f.Kind() != ValueArray {
			continue
		}
		arrays++
		if f.Len() > 0 {
			if first := f.Index(0).Kind(); first == ValueObject || first == ValueArray {
				nested++
			}
		}
	}
	if arrays == 0 {
		return 0
	}
	return float64(nested) / float64(arrays)
}

// isConsistent reports whether every object element of an array has the
// same key set as the first element. Non-arrays are always consistent.
func isConsistent(doc Value) bool {
	if doc.Kind() != ValueArray || doc.Len() < 2 {
		return true
	}
	var first []string
	if head := doc.Index(0); head.Kind() == ValueObject {
		first = head.Keys()
	}
	for _, item := range doc.Elems()[1:] {
		if item.Kind() != ValueObject {
			continue
		}
		if !sameKeys(first, item.Keys()) {
			return false
		}
	}
	return true
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasIDField(v Value) bool {
	if v.Kind() != ValueObject {
		return false
	}
	for _, k := range v.Keys() {
		if idFieldPattern.MatchString(k) {
			return true
		}
	}
	return false
}
