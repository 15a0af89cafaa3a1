// Package conflict provides deterministic conflict resolution for concurrent
// multi-device edits.
//
// Resolution compares vector clocks: the version whose clock holds the
// greater maximum timestamp wins; an exact tie falls to the lexicographically
// greater device identifier. Both rules are commutative, so every device
// arrives at the same winner regardless of which side initiated the merge,
// and the resolver needs no store or network access.
package conflict

import "github.com/converso-app/backend/internal/models"

// Side identifies which version won a resolution.
type Side string

const (
	LocalWins  Side = "local"
	RemoteWins Side = "remote"
)

// Outcome is the result of resolving two versions of the same entity.
type Outcome struct {
	Winner Side
	// LocalMax and RemoteMax are the compared clock maxima, kept for the
	// conflict journal.
	LocalMax  int64
	RemoteMax int64
	// Merged is the element-wise maximum of both clocks. The surviving
	// entity carries it so replicas converge to identical vectors, not just
	// identical content.
	Merged models.VectorClock
	// Tie reports that the maxima were equal and the device identifier
	// broke the tie.
	Tie bool
}

// Resolver resolves conflicts between a local and a remote version.
// The local device identifier is injected at construction so resolution is
// testable without any ambient process state.
type Resolver struct {
	deviceID string
}

// New creates a Resolver for the given local device identifier.
func New(deviceID string) *Resolver {
	return &Resolver{deviceID: deviceID}
}

// Resolve compares the two versions' clocks and picks a winner.
//
// The clock values are wall-clock millis, so skew between devices can let an
// objectively older write win. Known simplification, noted rather than fixed;
// hybrid logical clocks would be the strict alternative.
func (r *Resolver) Resolve(local, remote models.VectorClock) Outcome {
	out := Outcome{
		LocalMax:  local.Max(),
		RemoteMax: remote.Max(),
		Merged:    local.Merge(remote),
	}

	switch {
	case out.RemoteMax > out.LocalMax:
		out.Winner = RemoteWins
	case out.LocalMax > out.RemoteMax:
		out.Winner = LocalWins
	default:
		// Concurrent edit: break the tie on device identifiers. The local
		// device competes against whichever remote device holds the remote
		// maximum; the strictly greater identifier wins on every replica.
		out.Tie = true
		if remote.MaxDevice() > r.deviceID {
			out.Winner = RemoteWins
		} else {
			out.Winner = LocalWins
		}
	}
	return out
}
