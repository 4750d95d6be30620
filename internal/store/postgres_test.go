package store

import "testing"

func TestNullIfEmpty(t *testing.T) {
    if v := nullIfEmpty(""); v != nil {
        t.Fatalf("empty string: %v", v)
    }
    if v := nullIfEmpty("x"); v != "x" {
        t.Fatalf("non-empty: %v", v)
    }
}
