package resolve

import (
	"errors"
	"fmt"

	"github.com/peteroluoch/africa-offline-os/internal/models"
)

// ErrPrecondition indicates a caller contract violation: a resolver needs at
// least two competing changes to work with.
var ErrPrecondition = errors.New("resolver requires at least two competing changes")

// Strategy names for persisting which resolver produced an outcome.
const (
	StrategyLastWriteWins    = "last-write-wins"
	StrategyManualResolution = "manual"
)

// Status of a resolution outcome.
type Status string

const (
	// StatusResolved means a deterministic winner was chosen.
	StatusResolved Status = "resolved"
	// StatusDeferred means the conflict must be persisted for operator review.
	StatusDeferred Status = "deferred"
)

// Outcome is the result of resolving a set of concurrent changes.
// For StatusResolved, Winner is the winning change and Value its payload.
type Outcome struct {
	Winner *models.ChangeRecord
	Value  []byte
	Status Status
}

// Resolver picks a winner among causally concurrent changes to one entity.
// Implementations must be deterministic: replicas replaying the same conflict
// independently must reach the same outcome.
type Resolver interface {
	// Resolve inspects the competing changes and returns an outcome.
	// It never fails for a well-formed list of length >= 2.
	Resolve(competing []*models.ChangeRecord) (Outcome, error)

	// Strategy returns the strategy name recorded on conflict rows.
	Strategy() string
}

// LastWriteWins resolves conflicts by picking the change with the latest
// creation timestamp. Ties break on origin node id (lexicographically
// greater wins), then change id, so the outcome is order-independent and
// identical on every replica.
type LastWriteWins struct{}

// Resolve always returns StatusResolved.
func (LastWriteWins) Resolve(competing []*models.ChangeRecord) (Outcome, error) {
	if len(competing) < 2 {
		return Outcome{}, fmt.Errorf("%w: got %d", ErrPrecondition, len(competing))
	}

	winner := competing[0]
	for _, c := range competing[1:] {
		if newerThan(c, winner) {
			winner = c
		}
	}

	return Outcome{
		Status: StatusResolved,
		Winner: winner,
		Value:  winner.Payload,
	}, nil
}

func (LastWriteWins) Strategy() string { return StrategyLastWriteWins }

// newerThan reports whether a wins over b under last-write-wins rules.
func newerThan(a, b *models.ChangeRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.OriginNode != b.OriginNode {
		return a.OriginNode > b.OriginNode
	}
	return a.ChangeID > b.ChangeID
}

// ManualResolution never picks a winner: every conflict is deferred and
// persisted with status unresolved for operator review.
type ManualResolution struct{}

// Resolve always returns StatusDeferred.
func (ManualResolution) Resolve(competing []*models.ChangeRecord) (Outcome, error) {
	if len(competing) < 2 {
		return Outcome{}, fmt.Errorf("%w: got %d", ErrPrecondition, len(competing))
	}
	return Outcome{Status: StatusDeferred}, nil
}

func (ManualResolution) Strategy() string { return StrategyManualResolution }

// ForStrategy returns the resolver registered under the given strategy name,
// defaulting to LastWriteWins for unknown names.
func ForStrategy(name string) Resolver {
	switch name {
	case StrategyManualResolution:
		return ManualResolution{}
	default:
		return LastWriteWins{}
	}
}
