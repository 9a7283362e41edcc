package graph

import (
	"errors"
	"sort"
	"testing"
)

func TestNewResolver(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("expected non-nil resolver")
	}
	if r.Size() != 0 {
		t.Errorf("expected empty resolver, got size %d", r.Size())
	}
}

func TestAddAndReadiness(t *testing.T) {
	r := New()
	if err := r.Add("a", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Add("b", []string{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !r.IsReady("a") {
		t.Error("expected a to be ready")
	}
	if r.IsReady("b") {
		t.Error("expected b to be blocked on a")
	}
}

func TestAddUnknownDependency(t *testing.T) {
	r := New()
	if err := r.Add("a", []string{"missing"}); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestAddDuplicate(t *testing.T) {
	r := New()
	if err := r.Add("a", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Add("a", nil); err == nil {
		t.Fatal("expected error for duplicate task")
	}
}

func TestSelfDependency(t *testing.T) {
	r := New()
	if err := r.Add("a", []string{"a"}); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestMarkCompletePushesReadiness(t *testing.T) {
	r := New()
	mustAdd(t, r, "a", nil)
	mustAdd(t, r, "b", []string{"a"})
	mustAdd(t, r, "c", []string{"a"})
	mustAdd(t, r, "d", []string{"b", "c"})

	ready := r.MarkComplete("a")
	sort.Strings(ready)
	if len(ready) != 2 || ready[0] != "b" || ready[1] != "c" {
		t.Fatalf("expected [b c] newly ready, got %v", ready)
	}

	// d still waits on c.
	ready = r.MarkComplete("b")
	if len(ready) != 0 {
		t.Fatalf("expected no newly ready tasks, got %v", ready)
	}
	ready = r.MarkComplete("c")
	if len(ready) != 1 || ready[0] != "d" {
		t.Fatalf("expected [d] newly ready, got %v", ready)
	}
}

func TestRemoveClearsEdges(t *testing.T) {
	r := New()
	mustAdd(t, r, "a", nil)
	mustAdd(t, r, "b", []string{"a"})

	r.Remove("b")
	if r.Size() != 1 {
		t.Errorf("expected size 1 after remove, got %d", r.Size())
	}
	if r.DependentCount("a") != 0 {
		t.Errorf("expected no dependents of a after remove, got %d", r.DependentCount("a"))
	}
}

func TestRemoveClearsDependentsIndex(t *testing.T) {
	r := New()
	mustAdd(t, r, "a", nil)
	mustAdd(t, r, "b", []string{"a"})

	// A task re-created under a removed ID must not inherit the old
	// dependents list.
	r.Remove("a")
	mustAdd(t, r, "a", nil)
	if got := r.DependentCount("a"); got != 0 {
		t.Errorf("expected re-created a to have no dependents, got %d", got)
	}
}

func TestDependentCount(t *testing.T) {
	r := New()
	mustAdd(t, r, "a", nil)
	mustAdd(t, r, "b", []string{"a"})
	mustAdd(t, r, "c", []string{"a"})

	if got := r.DependentCount("a"); got != 2 {
		t.Errorf("expected 2 dependents, got %d", got)
	}
	if got := r.DependentCount("b"); got != 0 {
		t.Errorf("expected 0 dependents, got %d", got)
	}
}

func TestRejectedAddLeavesGraphUnchanged(t *testing.T) {
	r := New()
	mustAdd(t, r, "a", nil)
	mustAdd(t, r, "b", []string{"a"})
	size := r.Size()

	if err := r.Add("c", []string{"c"}); !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
	if r.Size() != size {
		t.Errorf("expected size unchanged after rejected add, got %d", r.Size())
	}
	if r.IsReady("c") {
		t.Error("rejected task should not be registered")
	}
}

func mustAdd(t *testing.T, r *Resolver, id string, deps []string) {
	t.Helper()
	if err := r.Add(id, deps); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
}
