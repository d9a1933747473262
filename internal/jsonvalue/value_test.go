package jsonvalue

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse_Kinds(t *testing.T) {
	tests := []struct {
		input string
		kind  Kind
	}{
		{`null`, KindNull},
		{`true`, KindBool},
		{`-12.5e3`, KindNumber},
		{`"x"`, KindString},
		{`[1, "a", null]`, KindArray},
		{`{"title": "x"}`, KindObject},
		{"  {}\n", KindObject},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse([]byte(tt.input))
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if v.Kind() != tt.kind {
				t.Errorf("Parse(%q).Kind() = %v, want %v", tt.input, v.Kind(), tt.kind)
			}
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, input := range []string{``, `{`, `{"a":1}{"b":2}`, `[1,]`, `nul`, `{"a":1} x`, "\"\xff\""} {
		if _, err := Parse([]byte(input)); !errors.Is(err, ErrSyntax) {
			t.Errorf("Parse(%q) error = %v, want ErrSyntax", input, err)
		}
	}
}

func TestEqual_Structural(t *testing.T) {
	a, err := Parse([]byte(`{"b":[1,2,{"c":null}],"a":"x","n":1.0}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	b, err := Parse([]byte(`{"a":"x","n":1,"b":[1,2e0,{"c":null}]}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !a.Equal(b) {
		t.Errorf("expected %s to equal %s", a, b)
	}

	c := a.With("a", String("y"))
	if a.Equal(c) {
		t.Errorf("expected %s to differ from %s", a, c)
	}
	if got := a.Lookup("a").Text(); got != "x" {
		t.Errorf("With mutated the receiver: a = %q", got)
	}
}

func TestMarshal_SortedKeys(t *testing.T) {
	v, err := Parse([]byte(`{"z":1,"a":{"y":true,"b":"s"}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got, want := v.String(), `{"a":{"b":"s","y":true},"z":1}`; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}

	pretty, err := Pretty(v)
	if err != nil {
		t.Fatalf("Pretty failed: %v", err)
	}
	want := "{\n  \"a\": {\n    \"b\": \"s\",\n    \"y\": true\n  },\n  \"z\": 1\n}\n"
	if diff := cmp.Diff(want, string(pretty)); diff != "" {
		t.Errorf("Pretty mismatch (-want +got):\n%s", diff)
	}
}

func TestPrettyRoundTrip(t *testing.T) {
	v, err := Parse([]byte(`{"title":"Alone","tracks":[{"no":1,"length":"4:46"}],"score":5,"note":"日本語"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	data, err := Pretty(v)
	if err != nil {
		t.Fatalf("Pretty failed: %v", err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Pretty) failed: %v", err)
	}
	if !v.Equal(back) {
		t.Errorf("round trip changed value: %s != %s", v, back)
	}
}

func TestToAnyFromAny(t *testing.T) {
	v, err := Parse([]byte(`{"a":[1,"two",false,null]}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	back, err := FromAny(v.ToAny())
	if err != nil {
		t.Fatalf("FromAny failed: %v", err)
	}
	if !v.Equal(back) {
		t.Errorf("FromAny(ToAny()) = %s, want %s", back, v)
	}

	fromGo, err := FromAny(map[string]any{"n": 3, "f": 1.5, "s": []any{"x"}})
	if err != nil {
		t.Fatalf("FromAny failed: %v", err)
	}
	if got, want := fromGo.String(), `{"f":1.5,"n":3,"s":["x"]}`; got != want {
		t.Errorf("FromAny = %s, want %s", got, want)
	}
}

func TestNumber_Validation(t *testing.T) {
	if _, err := Number("1e400"); err != nil {
		t.Errorf("Number(1e400) should be accepted: %v", err)
	}
	for _, bad := range []string{"", "abc", `"1"`, "01", "1."} {
		if _, err := Number(bad); err == nil {
			t.Errorf("Number(%q) should fail", bad)
		}
	}
}

func TestMarshal_NoHTMLEscape(t *testing.T) {
	v := Object(map[string]Value{"a&b": String("<x> & y")})
	data, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() failed: %v", err)
	}
	if want := `{"a&b":"<x> & y"}`; string(data) != want {
		t.Errorf("MarshalJSON() = %s, want %s", data, want)
	}
}
