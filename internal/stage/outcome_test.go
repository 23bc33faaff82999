package stage

import (
	"context"
	"testing"
)

func TestMutatedOutcome(t *testing.T) {
	out := Mutated()
	if out.IsExpanded() {
		t.Fatal("mutated outcome must not be expanded")
	}
	if out.Batch().Len() != 0 {
		t.Fatalf("expected empty batch, got %d items", out.Batch().Len())
	}
}

func TestExpandedOutcome(t *testing.T) {
	applied := false
	batch := Batch{
		Items: []WorkItem{
			{Label: "a", Run: func(context.Context) error { return nil }},
			{Label: "b", Run: func(context.Context) error { return nil }},
		},
		Apply: func() { applied = true },
	}

	out := Expanded(batch, 3)
	if !out.IsExpanded() {
		t.Fatal("expected expanded outcome")
	}
	if out.Concurrency() != 3 {
		t.Fatalf("unexpected concurrency %d", out.Concurrency())
	}
	if out.Batch().Len() != 2 {
		t.Fatalf("unexpected item count %d", out.Batch().Len())
	}
	out.Batch().Apply()
	if !applied {
		t.Fatal("expected apply hook to be carried through")
	}
}

func TestExpandedNegativeConcurrencyMeansDefault(t *testing.T) {
	if got := Expanded(Batch{}, -4).Concurrency(); got != 0 {
		t.Fatalf("expected 0 for default, got %d", got)
	}
}

func TestCriticalityString(t *testing.T) {
	if Fatal.String() != "fatal" || Recoverable.String() != "recoverable" {
		t.Fatalf("unexpected labels %q %q", Fatal, Recoverable)
	}
}
