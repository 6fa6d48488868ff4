package concurrent

import (
	"context"
	"errors"
	"testing"
)

func TestMapKeepsOrderAndPerItemErrors(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	results, errs := Map(context.Background(), items, func(n int) (int, error) {
		if n == 3 {
			return 0, errors.New("boom")
		}
		return n * n, nil
	}, 2)

	if len(results) != len(items) || len(errs) != len(items) {
		t.Fatalf("length mismatch: %d results, %d errs", len(results), len(errs))
	}
	for i, n := range items {
		if n == 3 {
			if errs[i] == nil {
				t.Fatalf("expected an error at index %d", i)
			}
			continue
		}
		if errs[i] != nil || results[i] != n*n {
			t.Fatalf("index %d: got (%d, %v), want (%d, nil)", i, results[i], errs[i], n*n)
		}
	}
}

func TestMapEmptyInput(t *testing.T) {
	results, errs := Map(context.Background(), nil, func(int) (int, error) { return 0, nil }, 2)
	if results != nil || errs != nil {
		t.Fatalf("expected nil slices for empty input, got %v, %v", results, errs)
	}
}
