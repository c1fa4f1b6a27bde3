package parser

import (
	"testing"
)

func TestNormalizeWikiTarget(t *testing.T) {
	cases := map[string]string{
		"  Note Name  ":   "note name",
		" Note | Alias ":  "note",
		"Foo.md":          "foo",
		"Foo.MD":          "foo",
		"foo":             "foo",
		"Long.Markdown":   "long",
		"":                "",
		"|alias":          "",
		"dir/Sub Note.md": "dir/sub note",
	}
	for in, want := range cases {
		if got := NormalizeWikiTarget(in); got != want {
			t.Errorf("NormalizeWikiTarget(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeWikiTarget_CaseAndExtensionInsensitive(t *testing.T) {
	if NormalizeWikiTarget("Foo.MD") != NormalizeWikiTarget("foo") {
		t.Error("Foo.MD and foo should normalize identically")
	}
}

func TestNormalizeWikiTarget_Idempotent(t *testing.T) {
	inputs := []string{
		"Foo", " Foo.md ", "foo.md.md", "foo .md", "A|B|C", ".md", "x.MARKDOWN.md",
		"  spaced  out  ", "ÄÖÜ.md", "tab\t.md", "",
	}
	for _, in := range inputs {
		once := NormalizeWikiTarget(in)
		twice := NormalizeWikiTarget(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestParseWikilinks_DedupKeepsFirstSeen(t *testing.T) {
	links := ParseWikilinks("[[Foo]] [[ foo ]] [[FOO|bar]]")
	if len(links) != 1 {
		t.Fatalf("len(links) = %d, want 1: %+v", len(links), links)
	}
	if links[0].Target != "Foo" || links[0].Normalized != "foo" {
		t.Errorf("links[0] = %+v, want {Foo foo}", links[0])
	}
}

func TestParseWikilinks_OrderAndEmpty(t *testing.T) {
	links := ParseWikilinks("see [[ ]] [[B]] and [[|alias]] then [[a.md]] [[b]]")
	if len(links) != 2 {
		t.Fatalf("links = %+v, want 2 entries", links)
	}
	if links[0].Normalized != "b" || links[1].Normalized != "a" {
		t.Errorf("order = %+v", links)
	}
}

func TestWikilinks_Restartable(t *testing.T) {
	seq := Wikilinks("[[One]] [[Two]]")
	var first, second []string
	for l := range seq {
		first = append(first, l.Target)
	}
	for l := range seq {
		second = append(second, l.Target)
		break
	}
	if len(first) != 2 || len(second) != 1 || second[0] != "One" {
		t.Errorf("first = %v, second = %v", first, second)
	}
}

func TestExtractWikilinkAt(t *testing.T) {
	text := "go to [[Target|Alias]] now"
	from := 6
	to := from + len("[[Target|Alias]]")

	for _, off := range []int{from, from + 3, to} {
		m, ok := ExtractWikilinkAt(text, off)
		if !ok {
			t.Fatalf("offset %d: expected a match", off)
		}
		if m.Raw != "Target|Alias" || m.Target != "Target" || m.From != from || m.To != to {
			t.Errorf("offset %d: match = %+v", off, m)
		}
	}
	for _, off := range []int{0, from - 1, to + 1} {
		if _, ok := ExtractWikilinkAt(text, off); ok {
			t.Errorf("offset %d: expected no match", off)
		}
	}
}

func TestExtractWikilinkAt_Unterminated(t *testing.T) {
	if _, ok := ExtractWikilinkAt("[[broken", 3); ok {
		t.Error("unterminated wikilink should not match")
	}
}

func TestFindWikilinks(t *testing.T) {
	text := "[[A]] and ![[b.png|alt]]"
	got := FindWikilinks(text)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].From != 0 || got[0].To != 5 || got[0].Target != "A" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].From != 11 || text[got[1].From:got[1].To] != "[[b.png|alt]]" {
		t.Errorf("second = %+v", got[1])
	}
}
