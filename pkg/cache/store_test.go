package cache

import (
	"testing"
	"time"
)

func TestStorePutGetInvalidate(t *testing.T) {
	s := NewStore[[]string](0, 0)

	if _, ok := s.Get("missing"); ok {
		t.Fatal("Get on empty store returned ok")
	}

	s.Put("b", []string{"2"})
	s.Put("a", []string{"1"})

	got, ok := s.Get("a")
	if !ok || len(got) != 1 || got[0] != "1" {
		t.Fatalf("Get(a)=%v,%v", got, ok)
	}
	if keys := s.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("Keys=%v, expected [a b]", keys)
	}
	if vals := s.Values(); len(vals) != 2 || vals[1][0] != "2" {
		t.Fatalf("Values=%v", vals)
	}

	s.Invalidate("a")
	if _, ok := s.Get("a"); ok {
		t.Fatal("a still present after Invalidate")
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d, expected 1", s.Len())
	}
}

func TestStoreExpiry(t *testing.T) {
	s := NewStore[int](10*time.Millisecond, time.Hour)
	s.Put("k", 7)

	if _, left, ok := s.GetWithAge("k"); !ok || left <= 0 {
		t.Fatalf("GetWithAge ok=%v left=%v", ok, left)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := s.Get("k"); ok {
		t.Fatal("expired entry still returned")
	}
}

func TestStoreNoExpiry(t *testing.T) {
	s := NewStore[int](0, 0)
	s.Put("k", 1)
	_, left, ok := s.GetWithAge("k")
	if !ok || left != 0 {
		t.Fatalf("GetWithAge left=%v ok=%v, expected no expiry", left, ok)
	}
	s.Flush()
	if s.Stats().TotalItems != 0 {
		t.Fatal("Flush left items behind")
	}
}
