// Package conflict provides unit tests for the conflict resolver.
package conflict

import (
	"testing"

	"github.com/converso-app/backend/internal/models"
)

// TestRemoteNewerWins tests that the greater clock maximum wins.
func TestRemoteNewerWins(t *testing.T) {
	r := New("device-a")

	out := r.Resolve(
		models.VectorClock{"device-a": 100},
		models.VectorClock{"device-b": 200},
	)

	if out.Winner != RemoteWins {
		t.Errorf("Expected remote to win, got %s", out.Winner)
	}
	if out.Tie {
		t.Error("Expected no tie")
	}
}

// TestLocalNewerWins tests the concurrent-edit scenario where the local
// device wrote later: A's {A:200} beats B's {B:150} on both devices.
func TestLocalNewerWins(t *testing.T) {
	aView := New("device-a").Resolve(
		models.VectorClock{"device-a": 200},
		models.VectorClock{"device-b": 150},
	)
	if aView.Winner != LocalWins {
		t.Errorf("Expected A's version to win on A, got %s", aView.Winner)
	}

	// Device B sees the same pair from the other side
	bView := New("device-b").Resolve(
		models.VectorClock{"device-b": 150},
		models.VectorClock{"device-a": 200},
	)
	if bView.Winner != RemoteWins {
		t.Errorf("Expected A's version to win on B, got %s", bView.Winner)
	}
}

// TestExactTieBreaksOnDeviceID tests the lexicographic tie-break: {A:100} vs
// {B:100} picks the greater device identifier identically on both devices.
func TestExactTieBreaksOnDeviceID(t *testing.T) {
	// On device A, B's version is remote; "device-b" > "device-a" so B wins
	aView := New("device-a").Resolve(
		models.VectorClock{"device-a": 100},
		models.VectorClock{"device-b": 100},
	)
	if aView.Winner != RemoteWins {
		t.Errorf("Expected B's version to win on A, got %s", aView.Winner)
	}
	if !aView.Tie {
		t.Error("Expected tie to be flagged")
	}

	// On device B, A's version is remote; "device-a" < "device-b" so B wins
	bView := New("device-b").Resolve(
		models.VectorClock{"device-b": 100},
		models.VectorClock{"device-a": 100},
	)
	if bView.Winner != LocalWins {
		t.Errorf("Expected B's version to win on B, got %s", bView.Winner)
	}
}

// TestCommutativity tests that both replicas agree on the winner for a range
// of clock pairs, including multi-device vectors.
func TestCommutativity(t *testing.T) {
	pairs := []struct {
		name string
		a, b models.VectorClock
	}{
		{"disjoint devices", models.VectorClock{"a": 100}, models.VectorClock{"b": 150}},
		{"exact tie", models.VectorClock{"a": 100}, models.VectorClock{"b": 100}},
		{"overlapping history", models.VectorClock{"a": 100, "b": 50}, models.VectorClock{"a": 80, "b": 120}},
		{"three devices", models.VectorClock{"a": 300, "c": 100}, models.VectorClock{"b": 300, "c": 100}},
		{"empty local", models.VectorClock{}, models.VectorClock{"b": 10}},
		{"both empty", models.VectorClock{}, models.VectorClock{}},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			onA := New("a").Resolve(tt.a, tt.b)
			onB := New("b").Resolve(tt.b, tt.a)

			// Same winner: A-local on device a must mirror A-remote on device b
			aWinsOnA := onA.Winner == LocalWins
			aWinsOnB := onB.Winner == RemoteWins
			if aWinsOnA != aWinsOnB {
				t.Errorf("Replicas disagree: device a says %s, device b says %s", onA.Winner, onB.Winner)
			}

			// Merged clocks are identical on both replicas
			if !onA.Merged.Equal(onB.Merged) {
				t.Errorf("Merged clocks diverge: %v vs %v", onA.Merged, onB.Merged)
			}
		})
	}
}

// TestEmptyVectorTreatedAsZero tests the empty-clock rule.
func TestEmptyVectorTreatedAsZero(t *testing.T) {
	out := New("device-a").Resolve(
		models.VectorClock{},
		models.VectorClock{"device-b": 1},
	)
	if out.Winner != RemoteWins {
		t.Errorf("Expected any entry to beat the empty clock, got %s", out.Winner)
	}
	if out.LocalMax != 0 {
		t.Errorf("Expected empty clock max 0, got %d", out.LocalMax)
	}
}

// TestMergedVector tests that the winner carries the element-wise maximum of
// both clocks.
func TestMergedVector(t *testing.T) {
	out := New("device-a").Resolve(
		models.VectorClock{"device-a": 100, "device-b": 40},
		models.VectorClock{"device-b": 90, "device-c": 60},
	)

	want := models.VectorClock{"device-a": 100, "device-b": 90, "device-c": 60}
	if !out.Merged.Equal(want) {
		t.Errorf("Expected merged %v, got %v", want, out.Merged)
	}
}
