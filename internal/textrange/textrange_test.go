package textrange

import "testing"

func TestIntersects(t *testing.T) {
	cases := []struct {
		name                   string
		aFrom, aTo, bFrom, bTo int
		want                   bool
	}{
		{"cursor before span", 2, 2, 5, 10, false},
		{"cursor at span start", 5, 5, 5, 10, true},
		{"cursor at span end", 10, 10, 5, 10, true},
		{"cursor after span", 11, 11, 5, 10, false},
		{"selection contains span", 0, 20, 5, 10, true},
		{"selection inside span", 6, 8, 5, 10, true},
		{"partial overlap left", 3, 6, 5, 10, true},
		{"partial overlap right", 9, 12, 5, 10, true},
		{"disjoint", 11, 15, 5, 10, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Intersects(tc.aFrom, tc.aTo, tc.bFrom, tc.bTo); got != tc.want {
				t.Errorf("Intersects(%d,%d,%d,%d) = %v, want %v", tc.aFrom, tc.aTo, tc.bFrom, tc.bTo, got, tc.want)
			}
		})
	}
}

func TestShouldHideMarkup_NegatesIntersects(t *testing.T) {
	for selFrom := 0; selFrom <= 12; selFrom++ {
		for selTo := selFrom; selTo <= 12; selTo++ {
			hide := ShouldHideMarkup(4, 8, selFrom, selTo)
			if hide == Intersects(selFrom, selTo, 4, 8) {
				t.Fatalf("ShouldHideMarkup(4,8,%d,%d) = %v, not the negation of Intersects", selFrom, selTo, hide)
			}
		}
	}
}

func TestShouldHideMarkup_CursorInsideUnhides(t *testing.T) {
	if !ShouldHideMarkup(4, 8, 0, 0) {
		t.Fatal("markup should be hidden when the cursor is elsewhere")
	}
	for pos := 4; pos <= 8; pos++ {
		if ShouldHideMarkup(4, 8, pos, pos) {
			t.Errorf("cursor at %d should reveal markup [4,8]", pos)
		}
	}
}

func TestOverlaps_AdjacentIsNotOverlap(t *testing.T) {
	if Overlaps(0, 5, 5, 9) {
		t.Error("adjacent spans should not overlap")
	}
	if !Overlaps(0, 6, 5, 9) {
		t.Error("spans sharing a position should overlap")
	}
}

func TestAnyHelpers(t *testing.T) {
	spans := []Span{{From: 0, To: 2}, {From: 10, To: 12}}
	if !AnyIntersects(spans, 12, 15) {
		t.Error("AnyIntersects should match inclusive boundary")
	}
	if AnyOverlaps(spans, 12, 15) {
		t.Error("AnyOverlaps should not match adjacent span")
	}
	if AnyIntersects(nil, 0, 100) {
		t.Error("no spans should never intersect")
	}
}
