// Package graph provides the two access paths to the Neo4j knowledge
// graph: the bolt binary protocol (primary) and the HTTP Cypher
// transaction endpoint (secondary).
//
// Bolt always bypasses the reverse proxy. The proxy terminates HTTP only,
// so the bolt URL is identical in proxied and direct deployments and the
// driver authenticates with Neo4j's native basic credentials.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Principal is the fixed database user the agent stack provisions.
const Principal = "neo4j"

// Driver wraps the bolt driver with the small query surface the agent
// needs. Credentials are not pre-validated; a wrong password surfaces
// from the driver on first real use.
type Driver struct {
	uri    string
	driver neo4j.DriverWithContext
}

// NewDriver creates a bolt driver for uri authenticated as Principal.
func NewDriver(uri, password string) (*Driver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(Principal, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	return &Driver{uri: uri, driver: driver}, nil
}

// URI returns the resolved bolt URL.
func (d *Driver) URI() string {
	return d.uri
}

// VerifyConnectivity checks that the server is reachable and the
// credentials are accepted. Used as the gateway's connectivity probe.
func (d *Driver) VerifyConnectivity(ctx context.Context) error {
	return d.driver.VerifyConnectivity(ctx)
}

// Run executes a single Cypher statement in an auto-commit transaction
// and returns the result rows as maps keyed by column name.
func (d *Driver) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer func() { _ = session.Close(ctx) }()

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}

	var rows []map[string]any
	for result.Next(ctx) {
		record := result.Record()
		row := make(map[string]any, len(record.Keys))
		for _, key := range record.Keys {
			value, _ := record.Get(key)
			row[key] = value
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to consume result: %w", err)
	}
	return rows, nil
}

// Close releases the driver's connection pool.
func (d *Driver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// IsAuthError reports whether err is the server rejecting the
// credentials, as opposed to the server being unreachable.
func IsAuthError(err error) bool {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return neoErr.Code == "Neo.ClientError.Security.Unauthorized"
	}
	return false
}
