package persist

import (
	"context"
	"errors"
	"time"

	"github.com/agenthands/geargraph/internal/core/model"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrRetriesExhausted = errors.New("graph write retries exhausted")
)

// Absorption soft-merges a duplicate into its canonical entity: relationships
// move to the canonical and the duplicate is marked absorbed.
type Absorption struct {
	CanonicalID string
	DuplicateID string
	At          time.Time
}

// Write is everything one candidate contributes, applied in a single
// transaction. Nodes and relationships are matched on natural keys, so
// applying the same Write twice leaves the graph unchanged.
type Write struct {
	Entity   *model.Equipment // upserted with its spec nodes when set
	EntityID string           // anchor for the relationships below
	Brand    *model.Brand
	Source   *model.Source
	Insights []model.Insight
	Family   *model.FamilyAssignment
	Absorb   *Absorption
	Finalize *model.Source
}

func (w Write) Empty() bool {
	return w.Entity == nil && w.Brand == nil && w.Source == nil && len(w.Insights) == 0 &&
		w.Family == nil && w.Absorb == nil && w.Finalize == nil
}

// Store is the graph the gateway reads and writes. Reads of absorbed
// entities by ID still succeed so callers can follow AbsorbedInto.
type Store interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, id string) (*model.Equipment, error)
	GetByKey(ctx context.Context, key model.CanonicalKey) (*model.Equipment, error)
	// Pool returns live entities of the brand or category, brand first.
	Pool(ctx context.Context, brandKey string, category model.Category, limit int) ([]*model.Equipment, error)
	ByBrand(ctx context.Context, brandKey string) ([]*model.Equipment, error)
	All(ctx context.Context) ([]*model.Equipment, error)
	Edges(ctx context.Context, id string) ([]model.Edge, error)
	FamilyExists(ctx context.Context, familyKey string) (bool, error)
	Source(ctx context.Context, ref string) (*model.Source, error)
	// Orphans lists brands, insights and families with no live entity
	// attached, sorted by label then key.
	Orphans(ctx context.Context) ([]model.Orphan, error)
	Apply(ctx context.Context, w Write) error
}
