package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, 500: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
	if LimitWithBuffer(10) != 11 {
		t.Fatalf("expected buffer of one row")
	}
}

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 42, time.UTC), ID: uuid.New()}
	out, err := ParseCursor(EncodeCursor(in))
	if err != nil {
		t.Fatalf("ParseCursor: %v", err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.ID != in.ID {
		t.Fatalf("cursor mismatch: got %+v want %+v", out, in)
	}

	if c, err := ParseCursor(""); err != nil || c != nil {
		t.Fatalf("expected nil cursor for empty input, got %+v, %v", c, err)
	}
	if _, err := ParseCursor("not-a-cursor"); err == nil {
		t.Fatal("expected malformed cursor to fail")
	}
}

func TestBuildPage(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]Cursor, 3)
	for i := range rows {
		rows[i] = Cursor{CreatedAt: base.Add(-time.Duration(i) * time.Minute), ID: uuid.New()}
	}
	identity := func(c Cursor) Cursor { return c }

	page := BuildPage(rows, 2, identity)
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	next, err := ParseCursor(page.NextCursor)
	if err != nil || next.ID != rows[1].ID {
		t.Fatalf("expected next cursor at second row, got %+v, %v", next, err)
	}

	last := BuildPage(rows[:2], 2, identity)
	if last.NextCursor != "" {
		t.Fatalf("expected no next cursor on final page")
	}
}

func TestParseCursorRejectsIncompletePosition(t *testing.T) {
	if _, err := ParseCursor(EncodeCursor(Cursor{CreatedAt: time.Now()})); err == nil {
		t.Fatal("expected cursor without id to fail")
	}
	if _, err := ParseCursor(EncodeCursor(Cursor{ID: uuid.New()})); err == nil {
		t.Fatal("expected cursor without timestamp to fail")
	}
}
