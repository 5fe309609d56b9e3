package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Tx runs statements inside one managed transaction. Rows come back as
// column-name maps so callers do not depend on driver record types.
type Tx interface {
	Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error)
	ExecuteRead(ctx context.Context, fn func(tx Tx) error) error
	ExecuteWrite(ctx context.Context, fn func(tx Tx) error) error
	VerifyConnectivity(ctx context.Context) error
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}
