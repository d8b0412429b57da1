package clock

import (
	"errors"
	"testing"
	"time"
)

func TestElapsed_BeforeAnchor(t *testing.T) {
	c := New()
	if _, err := c.Elapsed(); !errors.Is(err, ErrNotAnchored) {
		t.Fatalf("expected ErrNotAnchored, got %v", err)
	}
}

func TestAnchor_Once(t *testing.T) {
	c := New()
	if err := c.Anchor(); err != nil {
		t.Fatalf("first Anchor: %v", err)
	}
	if err := c.Anchor(); !errors.Is(err, ErrAlreadyAnchored) {
		t.Fatalf("expected ErrAlreadyAnchored, got %v", err)
	}
}

func TestElapsed_Monotonic(t *testing.T) {
	c := New()
	if err := c.Anchor(); err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	a, err := c.Elapsed()
	if err != nil {
		t.Fatalf("Elapsed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	b, err := c.Elapsed()
	if err != nil {
		t.Fatalf("Elapsed: %v", err)
	}
	if b <= a {
		t.Fatalf("elapsed did not advance: %v then %v", a, b)
	}
}

func TestAnchored(t *testing.T) {
	c := New()
	if c.Anchored() {
		t.Fatal("fresh clock reports anchored")
	}
	if err := c.Anchor(); err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	if !c.Anchored() {
		t.Fatal("anchored clock reports unanchored")
	}
}
