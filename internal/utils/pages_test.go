package utils

import (
	"strings"
	"testing"
)

func TestPaginateByLines(t *testing.T) {
	lines := []string{"a", "b", "c", "d", "e"}
	pages := Paginate(lines, 100, 2)
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	if pages[0] != "a\nb" || pages[2] != "e" {
		t.Fatalf("unexpected pages: %q", pages)
	}
}

func TestPaginateByChars(t *testing.T) {
	line := strings.Repeat("x", 30)
	pages := Paginate([]string{line, line, line}, 70, 25)
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	for _, page := range pages {
		if len(page) > 70 {
			t.Fatalf("page exceeds limit: %d", len(page))
		}
	}
}

func TestPaginateEmpty(t *testing.T) {
	if pages := Paginate(nil, 10, 10); len(pages) != 0 {
		t.Fatalf("expected no pages, got %d", len(pages))
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Truncate("hello", 3); got != "hel" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Truncate("ab€", 4); got != "ab" {
		t.Fatalf("unexpected %q", got)
	}
}
