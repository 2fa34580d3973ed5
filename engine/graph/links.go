// Package graph records the directory structure the crawler discovers as a
// link graph in Neo4j. It is an optional side channel: failures are reported
// to the caller for logging but never stop a crawl.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cshuaimin/ipfs-crawler/engine/gateway"
)

// LinkStore writes (parent)-[:CONTAINS]->(child) edges between content
// objects as directories are expanded.
type LinkStore struct {
	driver neo4j.DriverWithContext
}

// NewLinkStore connects to Neo4j and verifies connectivity.
func NewLinkStore(ctx context.Context, url, user, pass string) (*LinkStore, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: connect %s: %w", url, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graph: verify connectivity: %w", err)
	}
	return &LinkStore{driver: driver}, nil
}

// SaveLinks merges the parent object and one CONTAINS edge per child.
// Re-expanding the same directory is idempotent.
func (s *LinkStore) SaveLinks(ctx context.Context, parent string, links []gateway.DirLink) error {
	if len(links) == 0 {
		return nil
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MERGE (p:Object {cid: $parent})
		WITH p
		UNWIND $links AS l
		MERGE (c:Object {cid: l.cid})
		MERGE (p)-[r:CONTAINS]->(c)
		SET r.name = l.name, c.size = l.size`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"parent": parent,
		"links":  linkParams(links),
	})
	if err != nil {
		return fmt.Errorf("graph: save links of %s: %w", parent, err)
	}
	return nil
}

func linkParams(links []gateway.DirLink) []map[string]any {
	out := make([]map[string]any, len(links))
	for i, l := range links {
		out[i] = map[string]any{
			"cid":  l.CID,
			"name": l.Name,
			"size": int64(l.Size),
		}
	}
	return out
}

// ObjectCounts returns the number of object nodes and CONTAINS edges.
func (s *LinkStore) ObjectCounts(ctx context.Context) (nodes, edges int64, err error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (n:Object)
		 OPTIONAL MATCH (:Object)-[r:CONTAINS]->(:Object)
		 RETURN count(DISTINCT n) AS nodes, count(DISTINCT r) AS edges`, nil)
	if err != nil {
		return 0, 0, err
	}
	if result.Next(ctx) {
		rec := result.Record()
		if v, ok := rec.Get("nodes"); ok {
			if n, ok := v.(int64); ok {
				nodes = n
			}
		}
		if v, ok := rec.Get("edges"); ok {
			if e, ok := v.(int64); ok {
				edges = e
			}
		}
	}
	return nodes, edges, result.Err()
}

// Close releases the underlying driver.
func (s *LinkStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
