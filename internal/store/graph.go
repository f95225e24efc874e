package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GraphNode is a knowledge-graph node.
type GraphNode struct {
	ID        string
	Kind      string
	Label     string
	Project   string
	CreatedAt time.Time
}

// GraphEdge is a weighted, typed link between two nodes.
type GraphEdge struct {
	ID        string
	FromID    string
	ToID      string
	Kind      string
	Weight    float64
	Project   string
	CreatedAt time.Time
}

// AddGraphNode stores a node. Duplicate ids are ignored so repeated
// consolidation cycles stay idempotent.
func (s *LocalStore) AddGraphNode(n *GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO graph_nodes (id, kind, label, project, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Kind, n.Label, nullable(n.Project), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to add graph node: %w", err)
	}
	return nil
}

// AddGraphEdge stores an edge. Duplicate ids are ignored.
func (s *LocalStore) AddGraphEdge(e *GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO graph_edges (id, from_id, to_id, kind, weight, project, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FromID, e.ToID, e.Kind, e.Weight, nullable(e.Project), e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to add graph edge: %w", err)
	}
	return nil
}

// GraphCountsInWindow returns how many nodes and edges were added in
// [start, end).
func (s *LocalStore) GraphCountsInWindow(project string, start, end time.Time) (nodes, edges int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM graph_nodes WHERE (project = ? OR project IS NULL) AND created_at >= ? AND created_at < ?`,
		project, start.UTC(), end.UTC(),
	).Scan(&nodes)
	if err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM graph_edges WHERE (project = ? OR project IS NULL) AND created_at >= ? AND created_at < ?`,
		project, start.UTC(), end.UTC(),
	).Scan(&edges)
	return nodes, edges, err
}
