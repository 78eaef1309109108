package keys

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":                  "",
		"foo":               "foo",
		"foo:bar":           "foo:bar",
		"foo/bar":           "foo:bar",
		"foo\\bar":          "foo:bar",
		"/foo/bar/":         "foo:bar",
		":foo::bar:":        "foo:bar",
		"foo//bar":          "foo:bar",
		"foo:bar?version=2": "foo:bar",
		"?query":            "",
		"users/42/profile":  "users:42:profile",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"", "a", "a:b", "a/b\\c", "::x::", "a?b", "a:b:c:d:e", "//", "a..b"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}

func TestNormalizeBase(t *testing.T) {
	cases := map[string]string{
		"":        "",
		":":       "",
		"foo":     "foo:",
		"foo:":    "foo:",
		"foo/bar": "foo:bar:",
	}
	for in, want := range cases {
		if got := NormalizeBase(in); got != want {
			t.Errorf("NormalizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoin(t *testing.T) {
	if got := Join("a", "b:", "c"); got != "a:b:c" {
		t.Errorf("Join = %q, want a:b:c", got)
	}
}

func TestDepth(t *testing.T) {
	if d := Depth("a"); d != 0 {
		t.Errorf("Depth(a) = %d, want 0", d)
	}
	if d := Depth("a:b:c"); d != 2 {
		t.Errorf("Depth(a:b:c) = %d, want 2", d)
	}
}

func TestFilterByBase(t *testing.T) {
	if !FilterByBase("mnt:x", "mnt:") {
		t.Error("mnt:x should match base mnt:")
	}
	if FilterByBase("other:x", "mnt:") {
		t.Error("other:x should not match base mnt:")
	}
	if !FilterByBase("x", "") {
		t.Error("every key matches the root base")
	}
	if FilterByBase("internal$", "") {
		t.Error("reserved metadata keys must never match")
	}
}

func TestFilterByDepth(t *testing.T) {
	if !FilterByDepth("a:b", 1) {
		t.Error("a:b should pass maxDepth 1")
	}
	if FilterByDepth("a:b:c", 1) {
		t.Error("a:b:c should fail maxDepth 1")
	}
	if !FilterByDepth("a:b:c:d", -1) {
		t.Error("negative maxDepth disables the filter")
	}
}

func TestValidSegments(t *testing.T) {
	good := []string{"", "a", "a:b", "s1:te..st..js", "fi..le", "a.b:c"}
	for _, k := range good {
		if !ValidSegments(k) {
			t.Errorf("ValidSegments(%q) = false, want true", k)
		}
	}
	bad := []string{"..", "..:etc:passwd", "a:..", "a:..:b"}
	for _, k := range bad {
		if ValidSegments(k) {
			t.Errorf("ValidSegments(%q) = true, want false", k)
		}
	}
}
