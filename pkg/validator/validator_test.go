package validator

import (
	"errors"
	"testing"
)

type item struct{ name string }

func (i item) Validate() error { return NotEmpty(i.name, "name") }

func TestValidators(t *testing.T) {
	cases := []struct {
		name string
		err  error
		ok   bool
	}{
		{"all nil", All(nil, nil), true},
		{"all first error", All(nil, errors.New("x")), false},
		{"each", Each([]item{{"a"}, {""}}), false},
		{"each ok", Each([]item{{"a"}}), true},
		{"not empty", NotEmpty("", "dir"), false},
		{"duplicates", NoDuplicates([]string{".html", ".html"}, "extensions"), false},
		{"no duplicates", NoDuplicates([]string{".html", ".txt"}, "extensions"), true},
		{"allowed", MatchesAllowed("b", []string{"a", "b"}, "mode"), true},
		{"not allowed", MatchesAllowed("c", []string{"a", "b"}, "mode"), false},
		{"in range", InRange(8080, 1, 65535, "port"), true},
		{"out of range", InRange(0, 1, 65535, "port"), false},
		{"prefix", Map([]string{".html", "txt"}, HasPrefix("."), "extensions"), false},
		{"bare prefix", HasPrefix(".")(".", "ext"), false},
		{"empty url", HTTPURL("", "remote"), true},
		{"http url", HTTPURL("https://example.com/tpl", "remote"), true},
		{"file url", HTTPURL("file:///tmp", "remote"), false},
		{"template syntax", NoTemplateSyntax("{{ host }}", "host"), false},
	}
	for _, tc := range cases {
		if (tc.err == nil) != tc.ok {
			t.Errorf("%s: got %v", tc.name, tc.err)
		}
	}
}

func TestMapNamesIndex(t *testing.T) {
	err := Map([]string{".html", "bad"}, HasPrefix("."), "extensions")
	if err == nil || err.Error() != `extensions[1] must start with ".", got "bad"` {
		t.Fatalf("got %v", err)
	}
}
