// Package graph stores the project relationship graph and resolves its closure.
// Edges live in Memgraph/Neo4j over the Bolt protocol, or in memory for local runs.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const txTimeout = 10 * time.Second

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Database is empty for Memgraph and the default Neo4j database
	Database string
}

func (c Config) uri() string {
	return fmt.Sprintf("bolt://%s:%d", c.Host, c.Port)
}

// Client owns the Bolt driver shared by the edge store
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   ectologger.Logger
}

func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.uri(), auth, func(c *neo4j.Config) {
		c.ConnectionAcquisitionTimeout = txTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("create bolt driver for %s: %w", cfg.uri(), err)
	}

	logger.WithField("uri", cfg.uri()).Info("Created graph driver")
	return &Client{driver: driver, database: cfg.Database, logger: logger}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: c.database})
}

// Write runs work in one managed write transaction, retried by the driver on
// transient failures
func (c *Client) Write(ctx context.Context, work func(tx neo4j.ManagedTransaction) error) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.Write")
	defer span.End()

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (struct{}, error) {
		return struct{}{}, work(tx)
	}, neo4j.WithTxTimeout(txTimeout))
	return err
}

// read runs work in a managed read transaction and returns its result
func read[T any](ctx context.Context, c *Client, work neo4j.ManagedTransactionWorkT[T]) (T, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.Read")
	defer span.End()

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	return neo4j.ExecuteRead(ctx, session, work, neo4j.WithTxTimeout(txTimeout))
}
