package sched

import "testing"

func TestPairForRunDeterministic(t *testing.T) {
	a1, b1 := PairForRun("011", 1, 3, 50)
	a2, b2 := PairForRun("011", 1, 3, 50)
	if a1 != a2 || b1 != b2 {
		t.Fatalf("pair not stable: (%d,%d) vs (%d,%d)", a1, b1, a2, b2)
	}
	if a1 == b1 {
		t.Fatalf("pair members collide: %d", a1)
	}
	if a1 < 1 || a1 > 50 || b1 < 1 || b1 > 50 {
		t.Fatalf("pair out of pool range: (%d,%d)", a1, b1)
	}
}

func TestPairForRunNoReuseAcrossRuns(t *testing.T) {
	seen := make(map[int]int)
	for run := 1; run <= 8; run++ {
		a, b := PairForRun("042", 2, run, 50)
		if prev, ok := seen[a]; ok {
			t.Fatalf("stimulus %d reused on runs %d and %d", a, prev, run)
		}
		if prev, ok := seen[b]; ok {
			t.Fatalf("stimulus %d reused on runs %d and %d", b, prev, run)
		}
		seen[a], seen[b] = run, run
	}
}

func TestPairForRunVariesBySession(t *testing.T) {
	a1, b1 := PairForRun("011", 1, 1, 50)
	a2, b2 := PairForRun("011", 2, 1, 50)
	if a1 == a2 && b1 == b2 {
		t.Fatalf("sessions share pair (%d,%d)", a1, b1)
	}
}
