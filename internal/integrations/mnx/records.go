package mnx

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/jsonvalue"
)

const pathSchemas = "/api/v1/records/schemas"

// Schema declares one record table to the service.
type Schema struct {
	TypeName    string                 `json:"type_name" yaml:"type_name"`
	Description string                 `json:"description,omitempty" yaml:"description"`
	Fields      map[string]SchemaField `json:"fields" yaml:"fields"`
}

// SchemaField is one typed column of a Schema.
type SchemaField struct {
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required,omitempty" yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Query is a structured record filter.
type Query struct {
	SubjectID string         `json:"subject_id,omitempty"`
	Where     map[string]any `json:"where,omitempty"`
	OrderBy   string         `json:"order_by,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	Offset    int            `json:"offset,omitempty"`
}

type createRecordRequest struct {
	SubjectID string           `json:"subject_id"`
	Data      jsonvalue.Object `json:"data"`
}

// DeclareSchema registers s. A 409 means the table already exists and
// counts as success.
func (c *Client) DeclareSchema(ctx context.Context, s Schema) error {
	if strings.TrimSpace(s.TypeName) == "" {
		return domain.InvalidInput("type_name_missing", nil)
	}
	_, err := c.do(ctx, request{method: http.MethodPost, path: pathSchemas, body: s})
	if status, ok := domain.StatusOf(err); ok && status == http.StatusConflict {
		c.logger.Debug("mnx: schema already declared", "type_name", s.TypeName)
		return nil
	}
	return err
}

// ListRecords returns the raw listing of a table for a subject.
func (c *Client) ListRecords(ctx context.Context, table, subjectID string, limit int) ([]byte, error) {
	if err := requireTable(table); err != nil {
		return nil, err
	}
	if strings.TrimSpace(subjectID) == "" {
		return nil, domain.InvalidInput("subject_id_missing", nil)
	}
	q := url.Values{"subject_id": {subjectID}}
	setLimit(q, limit)
	return c.do(ctx, request{method: http.MethodGet, path: tablePath(table), query: q})
}

// CreateRecord writes one record with the given fields.
func (c *Client) CreateRecord(ctx context.Context, table, subjectID string, fields jsonvalue.Object) ([]byte, error) {
	if err := requireTable(table); err != nil {
		return nil, err
	}
	if strings.TrimSpace(subjectID) == "" {
		return nil, domain.InvalidInput("subject_id_missing", nil)
	}
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   tablePath(table),
		body:   createRecordRequest{SubjectID: subjectID, Data: fields},
	})
}

// DeleteRecord removes one record by id.
func (c *Client) DeleteRecord(ctx context.Context, table, id, subjectID string) error {
	if err := requireTable(table); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return domain.InvalidInput("record_id_missing", nil)
	}
	var q url.Values
	if subjectID != "" {
		q = url.Values{"subject_id": {subjectID}}
	}
	_, err := c.do(ctx, request{method: http.MethodDelete, path: tablePath(table, id), query: q})
	return err
}

// QueryRecords runs a structured filter and returns the raw result.
func (c *Client) QueryRecords(ctx context.Context, table string, q Query) ([]byte, error) {
	if err := requireTable(table); err != nil {
		return nil, err
	}
	return c.do(ctx, request{method: http.MethodPost, path: tablePath(table, "query"), body: q})
}

func requireTable(table string) error {
	if strings.TrimSpace(table) == "" {
		return domain.InvalidInput("table_missing", nil)
	}
	return nil
}
