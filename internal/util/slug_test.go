package util

import (
	"errors"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple", in: "Quarterly Budget", want: "quarterly-budget"},
		{name: "punctuation", in: "  Q3: plan / review!! ", want: "q3-plan-review"},
		{name: "accents", in: "Café Crème", want: "cafe-creme"},
		{name: "underscores", in: "team_tasks__2024", want: "team-tasks-2024"},
		{name: "blank", in: "   ", want: ""},
		{name: "symbols only", in: "%%%", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Slugify(tc.in); got != tc.want {
				t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestUniqueSlugAppendsCounter(t *testing.T) {
	existing := map[string]bool{"budget": true, "budget-1": true}
	got, err := UniqueSlug("budget", func(s string) (bool, error) { return existing[s], nil })
	if err != nil {
		t.Fatalf("UniqueSlug() error = %v", err)
	}
	if got != "budget-2" {
		t.Fatalf("UniqueSlug() = %q, want budget-2", got)
	}
}

func TestUniqueSlugPropagatesLookupError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := UniqueSlug("x", func(string) (bool, error) { return false, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestFallbackSlug(t *testing.T) {
	got := FallbackSlug("page", "3f2a9c1e-77aa-4b6e-9f00-000000000000")
	if got != "page-3f2a9c1e" {
		t.Fatalf("FallbackSlug() = %q", got)
	}
}
