package polystore

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func mustParse(t *testing.T, s string) Value {
	t.Helper()
	v, err := ParseValue([]byte(s))
	if err != nil {
		t.Fatalf("ParseValue(%s): %v", s, err)
	}
	return v
}

func TestParseValueKinds(t *testing.T) {
	tests := []struct {
		input    string
		kind     ValueKind
		typeName string
	}{
		{`null`, ValueNull, "null"},
		{`true`, ValueBool, "boolean"},
		{`42`, ValueNumber, "integer"},
		{`-7`, ValueNumber, "integer"},
		{`999.99`, ValueNumber, "float"},
		{`1e3`, ValueNumber, "float"},
		{`"hi"`, ValueString, "string"},
		{`[1,2]`, ValueArray, "array"},
		{`{"a":1}`, ValueObject, "object"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v := mustParse(t, tt.input)
			if v.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", v.Kind(), tt.kind)
			}
			if v.TypeName() != tt.typeName {
				t.Errorf("TypeName() = %q, want %q", v.TypeName(), tt.typeName)
			}
		})
	}
}

func TestParseValueRejectsMalformed(t *testing.T) {
	for _, input := range []string{``, `{"a":`, `{"a":1} {"b":2}`, `[1,2]]`} {
		_, err := ParseValue([]byte(input))
		if !errors.Is(err, ErrAnalysis) {
			t.Errorf("ParseValue(%q) error = %v, want ErrAnalysis", input, err)
		}
	}
}

func TestValueOfRejectsUnserializable(t *testing.T) {
	inputs := []interface{}{
		make(chan int),
		func() {},
		math.NaN(),
		map[string]interface{}{"nested": math.Inf(1)},
	}
	for _, in := range inputs {
		if _, err := ValueOf(in); !errors.Is(err, ErrAnalysis) {
			t.Errorf("ValueOf(%T) error = %v, want ErrAnalysis", in, err)
		}
	}
}

func TestValueOfGoValues(t *testing.T) {
	type item struct {
		ID    int     `json:"id"`
		Price float64 `json:"price"`
	}
	v, err := ValueOf([]item{{ID: 1, Price: 9.5}})
	if err != nil {
		t.Fatalf("ValueOf: %v", err)
	}
	if got := v.String(); got != `[{"id":1,"price":9.5}]` {
		t.Errorf("String() = %s", got)
	}

	n, err := ValueOf(float64(3))
	if err != nil {
		t.Fatalf("ValueOf: %v", err)
	}
	if !n.IsInteger() {
		t.Error("whole float64 should render as an integer literal")
	}
}

func TestValueMarshalSortsKeys(t *testing.T) {
	a := mustParse(t, `{"b":1,"a":{"d":[true,null],"c":"x"}}`)
	b := mustParse(t, ` { "a" : { "c" : "x", "d" : [ true , null ] }, "b" : 1 } `)

	want := `{"a":{"c":"x","d":[true,null]},"b":1}`
	if a.String() != want {
		t.Errorf("String() = %s, want %s", a.String(), want)
	}
	if a.String() != b.String() {
		t.Error("equal documents must serialize identically")
	}
	if !a.Equal(b) {
		t.Error("Equal() should be true")
	}
}

func TestValueEqualNumbers(t *testing.T) {
	if !mustParse(t, `1.50`).Equal(mustParse(t, `1.5`)) {
		t.Error("numbers should compare by value")
	}
	if mustParse(t, `[1]`).Equal(mustParse(t, `1`)) {
		t.Error("array and number must differ")
	}
	if mustParse(t, `{"a":1}`).Equal(mustParse(t, `{"a":1,"b":2}`)) {
		t.Error("objects with different keys must differ")
	}
}

func TestValueJSONRoundTripInStruct(t *testing.T) {
	type envelope struct {
		Payload Value `json:"payload"`
	}
	in := envelope{Payload: mustParse(t, `[{"id":1,"tags":["a"]}]`)}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out envelope
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Payload.Equal(in.Payload) {
		t.Errorf("payload changed: %s != %s", out.Payload, in.Payload)
	}
}

func TestValueSample(t *testing.T) {
	if got := mustParse(t, `[{"a":1},{"b":2}]`).Sample().String(); got != `{"a":1}` {
		t.Errorf("Sample() = %s", got)
	}
	if got := mustParse(t, `[]`).Sample().Kind(); got != ValueArray {
		t.Errorf("empty array sample kind = %v", got)
	}
	if got := mustParse(t, `"x"`).Sample().Text(); got != "x" {
		t.Errorf("scalar sample = %q", got)
	}
}

func TestValueInterface(t *testing.T) {
	v := mustParse(t, `{"n":2,"s":"x","l":[false]}`)
	m, ok := v.Interface().(map[string]interface{})
	if !ok {
		t.Fatalf("Interface() = %T", v.Interface())
	}
	if m["n"] != json.Number("2") || m["s"] != "x" {
		t.Errorf("unexpected map %v", m)
	}
	if l, ok := m["l"].([]interface{}); !ok || l[0] != false {
		t.Errorf("unexpected list %v", m["l"])
	}
}
