package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bridgeinspect/internal/records"
	"bridgeinspect/internal/snapshot"
)

// SnapshotStore reads back exported snapshots.
type SnapshotStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

func (s *Server) getTree(c *gin.Context) {
	nodes, err := s.Records.Subtree(c.Request.Context(), c.Param("entity"), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	tree, ok := snapshot.Nest(nodes)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "kind": records.KindNotFound})
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (s *Server) createSnapshot(c *gin.Context) {
	key, err := s.Snapshots.Export(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": key})
}

func (s *Server) listSnapshots(c *gin.Context) {
	keys, err := s.SnapshotStore.List(c.Request.Context(), s.snapshotPrefix()+"/")
	if err != nil {
		s.writeError(c, err)
		return
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, s.snapshotPrefix()+"/"))
	}
	c.JSON(http.StatusOK, gin.H{"items": names})
}

func (s *Server) getSnapshot(c *gin.Context) {
	name := c.Param("name")
	if strings.Contains(name, "/") || !strings.HasSuffix(name, ".json") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "kind": records.KindNotFound})
		return
	}
	obj, err := s.SnapshotStore.Get(c.Request.Context(), s.snapshotPrefix()+"/"+name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "kind": records.KindNotFound})
		return
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "kind": records.KindNotFound})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) snapshotPrefix() string {
	if s.Snapshots == nil || s.Snapshots.Prefix == "" {
		return "snapshots"
	}
	return s.Snapshots.Prefix
}
