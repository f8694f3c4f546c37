// Package snapshot exports the active taxonomy as one nested JSON document
// and stores it in object storage.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bridgeinspect/internal/records"
)

// Store is the object storage the exporter writes to.
type Store interface {
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error
}

// Node is one taxonomy row with its active children.
type Node struct {
	Type        string         `json:"type"`
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	ParentID    *string        `json:"parentId"`
	SortOrder   int            `json:"sortOrder"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Children    []Node         `json:"children,omitempty"`
}

type Snapshot struct {
	TakenAt time.Time `json:"takenAt"`
	Levels  []string  `json:"levels"`
	Roots   []Node    `json:"roots"`
}

// Nest builds the tree rooted at entities[0]. Rows whose parent is not in the
// set are dropped.
func Nest(entities []records.Entity) (Node, bool) {
	if len(entities) == 0 {
		return Node{}, false
	}
	childrenMap := map[string][]*Node{}
	nodes := make([]*Node, 0, len(entities))
	for i, ent := range entities {
		n := &Node{
			Type:        ent.Type,
			ID:          ent.ID,
			Code:        ent.Code,
			Name:        ent.Name,
			Description: ent.Description,
			ParentID:    ent.ParentID,
			SortOrder:   ent.SortOrder,
		}
		if len(ent.Attributes) > 0 {
			n.Attributes = ent.Attributes
		}
		nodes = append(nodes, n)
		if i > 0 && ent.ParentID != nil {
			childrenMap[*ent.ParentID] = append(childrenMap[*ent.ParentID], n)
		}
	}

	var attach func(*Node)
	attach = func(n *Node) {
		if kids, ok := childrenMap[n.ID]; ok {
			n.Children = make([]Node, 0, len(kids))
			for _, child := range kids {
				attach(child)
				n.Children = append(n.Children, *child)
			}
		}
	}
	attach(nodes[0])
	return *nodes[0], true
}

type Exporter struct {
	Records *records.Service
	Store   Store
	Prefix  string
	Now     func() time.Time
}

// Build walks every active root, ordered by code, and nests its subtree.
func (e *Exporter) Build(ctx context.Context) (*Snapshot, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	types := e.Records.Registry().Types()
	snap := &Snapshot{TakenAt: now().UTC(), Levels: types, Roots: []Node{}}
	rootType := types[0]

	for page := 1; ; page++ {
		p, err := e.Records.List(ctx, rootType, records.ListQuery{Page: page, Sort: "code"})
		if err != nil {
			return nil, err
		}
		for _, root := range p.Items {
			entities, err := e.Records.Subtree(ctx, rootType, root.ID)
			if err != nil {
				return nil, fmt.Errorf("subtree of %s: %w", root.Code, err)
			}
			if node, ok := Nest(entities); ok {
				snap.Roots = append(snap.Roots, node)
			}
		}
		if len(p.Items) == 0 || int64(page*p.PageSize) >= p.TotalCount {
			break
		}
	}
	return snap, nil
}

// Export builds a snapshot and stores it, returning the object key.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	snap, err := e.Build(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	key := Key(e.Prefix, snap.TakenAt)
	if err := e.Store.PutBytes(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	return key, nil
}

// Key names a snapshot object, e.g. snapshots/20240501T080000Z.json.
func Key(prefix string, at time.Time) string {
	if prefix == "" {
		prefix = "snapshots"
	}
	return fmt.Sprintf("%s/%s.json", prefix, at.UTC().Format("20060102T150405Z"))
}
