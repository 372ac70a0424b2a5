package mnx

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/resolve"
)

const (
	pathCompletions = "/api/v1/chat/completions"
	pathHistoryList = "/api/v1/chat/history/list"
	pathHistoryRead = "/api/v1/chat/history/read"
)

// ChatRequest is the completions request body.
type ChatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	Stream      bool                 `json:"stream,omitempty"`
	Context     *Context             `json:"mnx,omitempty"`
}

// Context scopes a completion to a subject and thread and tells the service
// what to remember.
type Context struct {
	SubjectID string          `json:"subject_id"`
	ChatID    string          `json:"chat_id"`
	Log       *bool           `json:"log,omitempty"`
	History   bool            `json:"history"`
	Learn     bool            `json:"learn"`
	Recall    bool            `json:"recall"`
	Records   *RecordsContext `json:"records,omitempty"`
}

// RecordsContext asks the service to write structured records extracted from
// the turn into the named tables.
type RecordsContext struct {
	Learn  bool     `json:"learn"`
	Recall bool     `json:"recall"`
	Tables []string `json:"tables"`
	Sync   bool     `json:"sync"`
}

func (r ChatRequest) validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return domain.InvalidInput("model_missing", nil)
	}
	if len(r.Messages) == 0 {
		return domain.InvalidInput("messages_missing", nil)
	}
	return nil
}

// CompleteRaw sends a non-streaming completion and returns the body as-is.
func (c *Client) CompleteRaw(ctx context.Context, req ChatRequest) ([]byte, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Stream = false
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   pathCompletions,
		body:   req,
		class:  classChat,
	})
}

// Complete sends a non-streaming completion and returns the assistant text.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	raw, err := c.CompleteRaw(ctx, req)
	if err != nil {
		return "", err
	}
	return resolve.AssistantText(raw)
}

// ListChats returns the subject's threads, most recently active first.
func (c *Client) ListChats(ctx context.Context, subjectID string, limit int) ([]domain.ChatSummary, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, domain.InvalidInput("subject_id_missing", nil)
	}
	q := url.Values{"subject_id": {subjectID}}
	setLimit(q, limit)
	raw, err := c.do(ctx, request{method: http.MethodGet, path: pathHistoryList, query: q})
	if err != nil {
		return nil, err
	}
	return c.resolver.Chats(raw)
}

// ReadHistory returns one thread's turns in server order.
func (c *Client) ReadHistory(ctx context.Context, id domain.Identity, limit int) ([]domain.HistoryMessage, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	q := url.Values{"subject_id": {id.SubjectID}, "chat_id": {id.ChatID}}
	setLimit(q, limit)
	raw, err := c.do(ctx, request{method: http.MethodGet, path: pathHistoryRead, query: q})
	if err != nil {
		return nil, err
	}
	return c.resolver.Messages(raw)
}

func setLimit(q url.Values, limit int) {
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
}
