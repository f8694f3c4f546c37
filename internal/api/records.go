package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bridgeinspect/internal/records"
	"bridgeinspect/internal/taxonomy"
)

func (s *Server) createRecord(c *gin.Context) {
	entity := c.Param("entity")
	var in records.CreateInput
	if err := s.bindRecordBody(c, entity, &in); err != nil {
		s.writeError(c, err)
		return
	}
	out, err := s.Records.Create(c.Request.Context(), entity, in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) listRecords(c *gin.Context) {
	q, err := parseListQuery(c.Request.URL.Query())
	if err != nil {
		s.writeError(c, err)
		return
	}
	page, err := s.Records.List(c.Request.Context(), c.Param("entity"), q)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getRecord(c *gin.Context) {
	includeInactive, err := boolQuery(c, "include_inactive")
	if err != nil {
		s.writeError(c, err)
		return
	}
	out, err := s.Records.Get(c.Request.Context(), c.Param("entity"), c.Param("id"), records.GetOptions{IncludeInactive: includeInactive})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) updateRecord(c *gin.Context) {
	entity := c.Param("entity")
	var in records.UpdateInput
	if err := s.bindRecordBody(c, entity, &in); err != nil {
		s.writeError(c, err)
		return
	}
	out, err := s.Records.Update(c.Request.Context(), entity, c.Param("id"), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) deleteRecord(c *gin.Context) {
	cascade, err := boolQuery(c, "cascade")
	if err != nil {
		s.writeError(c, err)
		return
	}
	res, err := s.Records.Delete(c.Request.Context(), c.Param("entity"), c.Param("id"), cascade)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) restoreRecord(c *gin.Context) {
	cascade, err := boolQuery(c, "cascade")
	if err != nil {
		s.writeError(c, err)
		return
	}
	out, err := s.Records.Restore(c.Request.Context(), c.Param("entity"), c.Param("id"), cascade)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getDescendants(c *gin.Context) {
	refs, err := s.Records.Descendants(c.Request.Context(), c.Param("entity"), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if refs == nil {
		refs = []records.Ref{}
	}
	c.JSON(http.StatusOK, gin.H{"items": refs})
}

// bindRecordBody decodes a create or update body into dst. The parent may be
// sent as "parentId" or under the level's own parent field name, e.g.
// "bridge_type_id" for a part.
func (s *Server) bindRecordBody(c *gin.Context, entity string, dst any) error {
	schema, err := s.Records.Registry().Describe(entity)
	if err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		return badBody(err)
	}
	if schema.ParentField != "" {
		if v, ok := raw[schema.ParentField]; ok {
			if _, set := raw["parentId"]; !set {
				raw["parentId"] = v
			}
			delete(raw, schema.ParentField)
		}
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return badBody(err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return badBody(err)
	}
	return nil
}

func boolQuery(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badParam(key)
	}
	return b, nil
}

type bodyError struct{ cause error }

func badBody(err error) error { return &bodyError{cause: err} }

func (e *bodyError) Error() string { return "invalid request body: " + e.cause.Error() }

func (e *bodyError) Unwrap() []error { return []error{records.ErrValidation, e.cause} }

// SchemaResponse describes one level for clients.
type SchemaResponse struct {
	Type        string              `json:"type"`
	Label       string              `json:"label"`
	Parent      string              `json:"parent,omitempty"`
	Child       string              `json:"child,omitempty"`
	ParentField string              `json:"parentField,omitempty"`
	Fields      []string            `json:"fields"`
	Attributes  []AttributeResponse `json:"attributes"`
	CodeFormat  string              `json:"codeFormat"`
	CustomCodes bool                `json:"customCodes"`
}

type AttributeResponse struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Enum   []string `json:"enum,omitempty"`
	MaxLen int      `json:"maxLength,omitempty"`
}

func (s *Server) getSchema(c *gin.Context) {
	schemas := s.Records.Registry().Schemas()
	out := make([]SchemaResponse, 0, len(schemas))
	for _, sc := range schemas {
		out = append(out, toSchemaResponse(sc))
	}
	c.JSON(http.StatusOK, out)
}

func toSchemaResponse(sc taxonomy.Schema) SchemaResponse {
	resp := SchemaResponse{
		Type:        sc.Type,
		Label:       sc.Label,
		Parent:      sc.Parent,
		Child:       sc.Child,
		ParentField: sc.ParentField,
		Fields:      sc.Fields(),
		Attributes:  make([]AttributeResponse, 0, len(sc.Attributes)),
		CustomCodes: sc.CodeRule.AllowCustom,
	}
	if sc.IsRoot() {
		resp.CodeFormat = sc.CodeRule.Format(sc.CodeRule.Prefix, 1)
	} else {
		resp.CodeFormat = sc.CodeRule.Format("<parent>", 1)
	}
	for _, a := range sc.Attributes {
		resp.Attributes = append(resp.Attributes, AttributeResponse{
			Name:   a.Name,
			Kind:   string(a.Kind),
			Enum:   a.Enum,
			MaxLen: a.MaxLen,
		})
	}
	return resp
}
