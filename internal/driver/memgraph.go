package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/logger"
)

// ErrTransient marks a failure worth retrying. Stores wrap it for faults the
// driver cannot classify itself.
var ErrTransient = errors.New("transient graph failure")

type MemgraphDriver struct {
	Driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

func NewMemgraphDriver(ctx context.Context, cfg config.MemgraphConfig, log *logger.Logger) (*MemgraphDriver, error) {
	if log == nil {
		log = logger.Nop()
	}
	timeout := config.Duration(cfg.ConnectTimeout, 10*time.Second)
	poolSize := cfg.MaxPoolSize
	if poolSize <= 0 {
		poolSize = 50
	}

	auth := neo4j.NoAuth()
	if cfg.User != "" {
		auth = neo4j.BasicAuth(cfg.User, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = poolSize
		c.SocketConnectTimeout = timeout
		c.ConnectionAcquisitionTimeout = timeout
		// retries are owned by the persistence gateway
		c.MaxTransactionRetryTime = 0
	})
	if err != nil {
		return nil, fmt.Errorf("memgraph: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("memgraph: verify connectivity: %w", err)
	}

	log.Info("Connected to Memgraph", "uri", cfg.URI, "pool", poolSize)
	return &MemgraphDriver{Driver: driver, database: cfg.Database, log: log.With("component", "memgraph")}, nil
}

func (d *MemgraphDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *MemgraphDriver) VerifyConnectivity(ctx context.Context) error {
	return d.Driver.VerifyConnectivity(ctx)
}

func (d *MemgraphDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if d.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(d.database))
	}
	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

func (d *MemgraphDriver) ExecuteRead(ctx context.Context, fn func(tx Tx) error) error {
	session := d.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database, AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(managedTx{tx: tx})
	})
	return err
}

func (d *MemgraphDriver) ExecuteWrite(ctx context.Context, fn func(tx Tx) error) error {
	session := d.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(managedTx{tx: tx})
	})
	return err
}

type managedTx struct {
	tx neo4j.ManagedTransaction
}

func (m managedTx) Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	res, err := m.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.AsMap())
	}
	return rows, nil
}

func (d *MemgraphDriver) BuildIndices(ctx context.Context) error {
	for _, q := range IndexQueries {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			// Memgraph rejects re-creating an existing index
			d.log.Warn("index creation failed", "query", q, "error", err)
		}
	}
	return nil
}

// IsTransient reports whether err is a connectivity or timeout failure that
// a later attempt may not hit.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
