package parser

import "testing"

func TestExtractImageMarkups(t *testing.T) {
	text := `![Alt](images/a.png "Title") ![[assets/b.png|Wiki Alt]]`
	refs := ExtractImageMarkups(text)
	if len(refs) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(refs), refs)
	}

	a, b := refs[0], refs[1]
	if a.Target != "images/a.png" || a.Alt != "Alt" || a.Title != "Title" || a.Kind != ImageMarkdown {
		t.Errorf("first = %+v", a)
	}
	if b.Target != "assets/b.png" || b.Alt != "Wiki Alt" || b.Kind != ImageWikilink {
		t.Errorf("second = %+v", b)
	}
	if a.From != 0 || text[a.From:a.To] != a.Raw {
		t.Errorf("first span = [%d,%d) raw %q", a.From, a.To, a.Raw)
	}
	if b.From <= a.From || text[b.From:b.To] != b.Raw {
		t.Errorf("second span = [%d,%d) raw %q", b.From, b.To, b.Raw)
	}
}

func TestExtractImageMarkups_SortedByStart(t *testing.T) {
	refs := ExtractImageMarkups("![[first.png]] then ![second](second.png)")
	if len(refs) != 2 {
		t.Fatalf("len = %d, want 2", len(refs))
	}
	if refs[0].Target != "first.png" || refs[1].Target != "second.png" {
		t.Errorf("refs = %+v", refs)
	}
}

func TestExtractImageMarkups_Malformed(t *testing.T) {
	for _, text := range []string{"![alt](", "![[open", "![alt](has space.png)", "[not](image.png)"} {
		if refs := ExtractImageMarkups(text); len(refs) != 0 {
			t.Errorf("%q: expected no refs, got %+v", text, refs)
		}
	}
}

func TestIsRemoteImageTarget(t *testing.T) {
	remote := []string{"https://x.test/a.png", "//cdn.test/a.png", "data:image/png;base64,AAA", " file:///etc/passwd"}
	for _, r := range remote {
		if !IsRemoteImageTarget(r) {
			t.Errorf("IsRemoteImageTarget(%q) = false, want true", r)
		}
	}
	local := []string{"images/a.png", "/root.png", "./a.png", "", "1abc:x"}
	for _, l := range local {
		if IsRemoteImageTarget(l) {
			t.Errorf("IsRemoteImageTarget(%q) = true, want false", l)
		}
	}
}

func TestResolveImageTarget(t *testing.T) {
	cases := []struct {
		note, target string
		want         string
		ok           bool
	}{
		{"notes/idea.md", "./images/photo.png", "notes/images/photo.png", true},
		{"notes/idea.md", "../oops.png", "", false},
		{"notes/idea.md", "/assets/a.png", "assets/a.png", true},
		{"idea.md", "pic.png", "pic.png", true},
		{"notes/idea.md", `sub\pic.png`, "notes/sub/pic.png", true},
		{"notes/idea.md", "a/../b.png", "", false},
		{"notes/idea.md", "/", "", false},
		{"notes/idea.md", "  ", "", false},
		{"notes/idea.md", ".", "notes", true},
	}
	for _, tc := range cases {
		got, ok := ResolveImageTarget(tc.note, tc.target)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ResolveImageTarget(%q, %q) = (%q, %v), want (%q, %v)", tc.note, tc.target, got, ok, tc.want, tc.ok)
		}
	}
}
