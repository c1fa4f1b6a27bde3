package buffer

import "testing"

func TestNew_LineIndex(t *testing.T) {
	d := New("alpha\nbeta\n\ngamma")
	if d.Lines() != 4 {
		t.Fatalf("Lines() = %d, want 4", d.Lines())
	}

	cases := []Line{
		{Number: 1, From: 0, To: 5, Text: "alpha"},
		{Number: 2, From: 6, To: 10, Text: "beta"},
		{Number: 3, From: 11, To: 11, Text: ""},
		{Number: 4, From: 12, To: 17, Text: "gamma"},
	}
	for _, want := range cases {
		if got := d.Line(want.Number); got != want {
			t.Errorf("Line(%d) = %+v, want %+v", want.Number, got, want)
		}
	}
}

func TestNew_TrailingNewline(t *testing.T) {
	d := New("one\n")
	if d.Lines() != 2 {
		t.Fatalf("Lines() = %d, want 2", d.Lines())
	}
	last := d.Line(2)
	if last.From != 4 || last.To != 4 || last.Text != "" {
		t.Errorf("last line = %+v", last)
	}
}

func TestLineAt(t *testing.T) {
	d := New("ab\ncd\nef")
	cases := map[int]int{-3: 1, 0: 1, 2: 1, 3: 2, 5: 2, 6: 3, 8: 3, 99: 3}
	for pos, want := range cases {
		if got := d.LineAt(pos).Number; got != want {
			t.Errorf("LineAt(%d) = line %d, want %d", pos, got, want)
		}
	}
}

func TestReplace(t *testing.T) {
	d := New("- [ ] task")
	next, err := d.Replace(3, 4, "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.String() != "- [x] task" {
		t.Errorf("got %q, want %q", next.String(), "- [x] task")
	}
	if d.String() != "- [ ] task" {
		t.Error("original doc was mutated")
	}

	grown, err := next.Replace(next.Len(), next.Len(), "\nmore")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grown.Lines() != 2 || grown.Line(2).Text != "more" {
		t.Errorf("grown = %q (%d lines)", grown.String(), grown.Lines())
	}
}

func TestReplace_InvalidRange(t *testing.T) {
	d := New("abc")
	for _, r := range [][2]int{{-1, 1}, {2, 1}, {0, 4}} {
		if _, err := d.Replace(r[0], r[1], ""); err == nil {
			t.Errorf("Replace(%d, %d) should fail", r[0], r[1])
		}
	}
}

func TestSlice(t *testing.T) {
	d := New("hello world")
	if got := d.Slice(6, 11); got != "world" {
		t.Errorf("Slice = %q", got)
	}
	if got := d.Slice(8, 2); got != "" {
		t.Errorf("reversed Slice = %q, want empty", got)
	}
}

func TestSelection(t *testing.T) {
	r := Range{Anchor: 9, Head: 4}
	if r.From() != 4 || r.To() != 9 || r.Empty() {
		t.Errorf("range = %+v from=%d to=%d", r, r.From(), r.To())
	}

	sel := Selection{Ranges: []Range{r, {Anchor: 20, Head: 20}}}
	if !sel.Touches(9, 12) {
		t.Error("expected touch at shared boundary")
	}
	if !sel.Touches(15, 20) {
		t.Error("expected cursor at span end to touch")
	}
	if sel.Touches(10, 19) {
		t.Error("gap should not touch")
	}
	if (Selection{}).Touches(0, 100) {
		t.Error("empty selection touches nothing")
	}

	spans := sel.Spans()
	if len(spans) != 2 || spans[0].From != 4 || spans[0].To != 9 {
		t.Errorf("spans = %+v", spans)
	}
	if c := Cursor(3); len(c.Ranges) != 1 || !c.Ranges[0].Empty() {
		t.Errorf("Cursor = %+v", c)
	}
}
