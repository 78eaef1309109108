package codec

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStringify(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{"hello", "hello"},
		{true, "true"},
		{42, "42"},
		{3.5, "3.5"},
		{map[string]any{"n": 1}, `{"n":1}`},
		{[]any{"a", 2}, `["a",2]`},
	}
	for _, c := range cases {
		got, err := Stringify(c.in)
		if err != nil {
			t.Fatalf("Stringify(%v) error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("Stringify(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStringifyRefusesUnrepresentable(t *testing.T) {
	if _, err := Stringify(make(chan int)); err == nil {
		t.Error("expected error for channel value")
	}
	if _, err := Stringify(func() {}); err == nil {
		t.Error("expected error for func value")
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"false", false},
		{"null", nil},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"3.5", 3.5},
		{`"quoted"`, "quoted"},
		{"plain text", "plain text"},
		{"{not json", "{not json"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Parse(c.in); got != c.want {
			t.Errorf("Parse(%q) = %v (%T), want %v (%T)", c.in, got, got, c.want, c.want)
		}
	}
}

func TestParseObject(t *testing.T) {
	got := Parse(`{"n":1,"s":"x"}`)
	want := map[string]any{"n": float64(1), "s": "x"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse object mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStringifyRoundTrip(t *testing.T) {
	values := []any{true, int64(42), 3.5, nil, "text"}
	for _, v := range values {
		s, err := Stringify(v)
		if err != nil {
			t.Fatalf("Stringify(%v): %v", v, err)
		}
		if got := Parse(s); got != v {
			t.Errorf("round trip of %v: got %v", v, got)
		}
	}
}

func TestRawEnvelope(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00, 0x01, 0xFF},
		[]byte("plain ascii"),
		bytes.Repeat([]byte{0xAB}, 1024),
	}
	for _, p := range payloads {
		enc := EncodeRaw(p)
		dec, ok := DecodeRaw(enc)
		if !ok {
			t.Fatalf("DecodeRaw rejected its own envelope %q", enc)
		}
		if !bytes.Equal(dec, p) {
			t.Errorf("raw round trip lost data: %v != %v", dec, p)
		}
	}
}

func TestDecodeRawRejectsMalformed(t *testing.T) {
	for _, s := range []string{"raw:", "raw:x:AAAA", "raw:3:!!", "raw:5:AA==", "not an envelope"} {
		if _, ok := DecodeRaw(s); ok {
			t.Errorf("DecodeRaw(%q) accepted malformed envelope", s)
		}
	}
}

func TestDecodeRawValueFallback(t *testing.T) {
	if got := DecodeRawValue("hello"); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("fallback should return the text bytes, got %v", got)
	}
	if got := DecodeRawValue(EncodeRaw([]byte{1, 2})); !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("envelope should decode, got %v", got)
	}
}
