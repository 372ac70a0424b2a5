package mnx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/jsonvalue"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type countingCreds struct {
	cred  domain.Credentials
	err   error
	calls atomic.Int32
}

func (f *countingCreds) Credentials(context.Context) (domain.Credentials, error) {
	f.calls.Add(1)
	return f.cred, f.err
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) (*Client, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	all := []Option{
		WithBaseURL(baseURL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSleeper(rec.sleep),
		WithJitter(func() float64 { return 0.5 }),
	}
	c, err := NewClient(StaticCredentials{APIKey: "mnx-test", SecondaryKey: "sk-provider"}, append(all, opts...)...)
	require.NoError(t, err)
	return c, rec
}

func chatRequest() ChatRequest {
	return ChatRequest{
		Model:    "gpt-4.1-mini",
		Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}},
		Context: &Context{
			SubjectID: "user-1",
			ChatID:    "6f1c2d7e-8a1b-4c3d-9e2f-0a1b2c3d4e5f",
			History:   true,
		},
	}
}

// ---------------------------------------------------------------------------
// NewClient / credentials
// ---------------------------------------------------------------------------

func TestNewClient_NilCredentials(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(StaticCredentials{APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, c.baseURL)
	require.Equal(t, DefaultTimeouts, c.timeouts)
	require.Equal(t, 3, c.retry.MaxAttempts)
	require.Nil(t, c.limiter)
}

func TestCredentials_ResolvedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chats":[]}`))
	}))
	defer srv.Close()

	creds := &countingCreds{cred: domain.Credentials{APIKey: "k"}}
	c, err := NewClient(creds, WithBaseURL(srv.URL))
	require.NoError(t, err)

	for range 3 {
		_, err := c.ListChats(context.Background(), "user-1", 10)
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), creds.calls.Load(), "credentials must be resolved once per client")
}

func TestClient_DisconnectedFailsLocally(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	for name, creds := range map[string]*countingCreds{
		"empty key":    {cred: domain.Credentials{APIKey: "  "}},
		"source error": {err: errors.New("ssm unavailable")},
	} {
		t.Run(name, func(t *testing.T) {
			c, err := NewClient(creds, WithBaseURL(srv.URL), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			require.NoError(t, err)

			st := c.Status(context.Background())
			require.False(t, st.Connected)
			require.Contains(t, st.Reason, domain.ReasonAPIKeyMissing)

			_, err = c.Complete(context.Background(), chatRequest())
			require.Error(t, err)
			require.Equal(t, domain.ErrorInvalidInput, domain.KindOf(err))
			require.Equal(t, domain.AdviceReconnect, domain.Advise(err))
		})
	}
	require.Zero(t, hits.Load(), "a disconnected client must not touch the network")
}

// scriptedCreds fails with each error in turn, then returns cred.
type scriptedCreds struct {
	errs  []error
	cred  domain.Credentials
	calls int
}

func (f *scriptedCreds) Credentials(context.Context) (domain.Credentials, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return domain.Credentials{}, err
	}
	return f.cred, nil
}

func TestCredentials_LookupFailureNotCached(t *testing.T) {
	creds := &scriptedCreds{
		errs: []error{context.Canceled, errors.New("ssm: ThrottlingException")},
		cred: domain.Credentials{APIKey: "k"},
	}
	c, err := NewClient(creds, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	require.False(t, c.Status(context.Background()).Connected)
	require.False(t, c.Status(context.Background()).Connected)
	require.True(t, c.Status(context.Background()).Connected)
	require.True(t, c.Status(context.Background()).Connected)
	require.Equal(t, 3, creds.calls, "only the successful lookup is kept")
}

func TestCredentials_EmptyKeyCached(t *testing.T) {
	creds := &countingCreds{cred: domain.Credentials{APIKey: ""}}
	c, err := NewClient(creds, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	for range 3 {
		require.False(t, c.Status(context.Background()).Connected)
	}
	require.Equal(t, int32(1), creds.calls.Load())
}

func TestClient_StatusConnected(t *testing.T) {
	c, _ := newTestClient(t, "http://unused")
	require.Equal(t, Status{Connected: true}, c.Status(context.Background()))
}

// ---------------------------------------------------------------------------
// Complete
// ---------------------------------------------------------------------------

func TestClient_Complete_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathCompletions, r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "mnx-test", r.Header.Get("x-mnexium-key"))
		require.Equal(t, "sk-provider", r.Header.Get("x-openai-key"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-4.1-mini", body["model"])
		require.NotContains(t, body, "stream")
		require.Contains(t, body, "temperature", "temperature is sent even when zero")
		mnx, ok := body["mnx"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "user-1", mnx["subject_id"])
		require.Equal(t, true, mnx["history"])
		require.NotContains(t, mnx, "records")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Hello from mock"}}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	got, err := c.Complete(context.Background(), chatRequest())
	require.NoError(t, err)
	require.Equal(t, "Hello from mock", got)
}

func TestClient_Complete_NoSecondaryKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["X-Openai-Key"]
		require.False(t, present)
		_, _ = w.Write([]byte(`{"answer":"ok"}`))
	}))
	defer srv.Close()

	c, err := NewClient(StaticCredentials{APIKey: "k"}, WithBaseURL(srv.URL))
	require.NoError(t, err)
	got, err := c.Complete(context.Background(), chatRequest())
	require.NoError(t, err)
	require.Equal(t, "ok", got)
}

func TestClient_Complete_EmptyModel(t *testing.T) {
	c, _ := newTestClient(t, "http://unused")
	req := chatRequest()
	req.Model = ""
	_, err := c.Complete(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, domain.ErrorInvalidInput, domain.KindOf(err))
	require.Contains(t, err.Error(), "model")
}

func TestClient_Complete_NotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.Complete(context.Background(), chatRequest())
	require.Error(t, err)
	require.Equal(t, domain.ErrorParse, domain.KindOf(err))
}

func TestClient_Complete_NoAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.Complete(context.Background(), chatRequest())
	require.Error(t, err)
	require.Equal(t, domain.ErrorInvalidResponse, domain.KindOf(err))
}

func TestClient_OversizedBodyIsInvalidResponse(t *testing.T) {
	body := `{"choices":[{"message":{"content":"` + strings.Repeat("x", 200) + `"}}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	c.maxBody = int64(len(body))
	_, err := c.CompleteRaw(context.Background(), chatRequest())
	require.NoError(t, err, "a body exactly at the limit is accepted")

	c.maxBody = int64(len(body)) - 1
	_, err = c.CompleteRaw(context.Background(), chatRequest())
	require.Error(t, err)
	require.Equal(t, domain.ErrorInvalidResponse, domain.KindOf(err))
	require.Contains(t, err.Error(), "response_too_large")
}

// ---------------------------------------------------------------------------
// Retry policy
// ---------------------------------------------------------------------------

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy
	require.Equal(t, 400*time.Millisecond, p.Backoff(1, 0))
	require.Equal(t, 800*time.Millisecond, p.Backoff(2, 0))
	require.Equal(t, 1600*time.Millisecond, p.Backoff(3, 0))
	require.Equal(t, 500*time.Millisecond, p.Backoff(1, 0.5))
	require.Equal(t, 400*time.Millisecond, p.Backoff(0, 0))
	require.Equal(t, 400*time.Millisecond, p.Backoff(1, 1.5), "out of range jitter is ignored")
}

func TestClient_RetriesRetryableStatuses(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503, 504, 599} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"busy"}`))
			}))
			defer srv.Close()

			c, rec := newTestClient(t, srv.URL)
			_, err := c.ListRecords(context.Background(), "receipts", "user-1", 20)
			require.Error(t, err)
			require.Equal(t, int32(3), hits.Load())

			code, ok := domain.StatusOf(err)
			require.True(t, ok)
			require.Equal(t, status, code)
			require.Contains(t, err.Error(), "busy")
			require.True(t, domain.IsRetryable(err))

			require.Len(t, rec.waits, 2)
			for i, d := range rec.waits {
				n := i + 1
				bound := DefaultRetryPolicy.Base<<(n-1) + DefaultRetryPolicy.MaxJitter
				require.LessOrEqual(t, d, bound)
				if i > 0 {
					require.Greater(t, d, rec.waits[i-1])
				}
			}
		})
	}
}

func TestClient_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"records":[]}`))
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL)
	body, err := c.ListRecords(context.Background(), "receipts", "user-1", 20)
	require.NoError(t, err)
	require.JSONEq(t, `{"records":[]}`, string(body))
	require.Equal(t, []time.Duration{500 * time.Millisecond, 900 * time.Millisecond}, rec.waits)
}

func TestClient_NonRetryableStatusSingleAttempt(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 409, 422} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(status)
			}))
			defer srv.Close()

			c, rec := newTestClient(t, srv.URL)
			_, err := c.Complete(context.Background(), chatRequest())
			require.Error(t, err)
			require.Equal(t, int32(1), hits.Load())
			require.Empty(t, rec.waits)
			require.Equal(t, domain.ErrorHTTPStatus, domain.KindOf(err))
			require.False(t, domain.IsRetryable(err))
		})
	}
}

func TestClient_TransportFailureRetried(t *testing.T) {
	c, rec := newTestClient(t, "http://127.0.0.1:1",
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))

	_, err := c.ListChats(context.Background(), "user-1", 5)
	require.Error(t, err)
	require.Equal(t, domain.ErrorTransport, domain.KindOf(err))
	require.Len(t, rec.waits, 2)
	require.Equal(t, domain.AdviceRetry, domain.Advise(err))
}

func TestClient_AttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL,
		WithTimeouts(Timeouts{Records: 30 * time.Millisecond}),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Base: time.Millisecond}))

	_, err := c.ListRecords(context.Background(), "receipts", "user-1", 1)
	require.Error(t, err)
	require.Equal(t, domain.ErrorTransport, domain.KindOf(err))
	require.Len(t, rec.waits, 1)
}

func TestClient_CanceledContextStopsRetrying(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestClient(t, srv.URL, WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := c.ListRecords(ctx, "receipts", "user-1", 1)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), hits.Load())
}

func TestClient_LogsEachAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Correlation-Id", "corr-1")
		if hits.Add(1) == 1 {
			w.Header().Set("X-Request-Id", "req-1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	c, _ := newTestClient(t, srv.URL, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	_, err := c.ListRecords(context.Background(), "receipts", "user-1", 1)
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, `msg="mnx: request failed"`)
	assert.Contains(t, out, "status=429")
	assert.Contains(t, out, "request_id=req-1")
	assert.Contains(t, out, "retryable=true")
	assert.Contains(t, out, "attempt=2")
	assert.Contains(t, out, "request_id=corr-1")
	assert.Contains(t, out, "path=/api/v1/records/receipts")
}

func TestRequestID_Order(t *testing.T) {
	h := http.Header{}
	require.Equal(t, "", requestID(h))
	h.Set("Cf-Ray", "ray")
	require.Equal(t, "ray", requestID(h))
	h.Set("Request-Id", "rid")
	require.Equal(t, "rid", requestID(h))
	h.Set("X-Request-Id", "xrid")
	require.Equal(t, "xrid", requestID(h))
}

func TestClient_RateLimitOption(t *testing.T) {
	c, _ := newTestClient(t, "http://unused", WithRateLimit(5, 0))
	require.NotNil(t, c.limiter)
	require.Equal(t, 1, c.limiter.Burst())

	c, _ = newTestClient(t, "http://unused", WithRateLimit(0, 3))
	require.Nil(t, c.limiter)
}

// ---------------------------------------------------------------------------
// history and records endpoints
// ---------------------------------------------------------------------------

func TestClient_ListChats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathHistoryList, r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "user-1", r.URL.Query().Get("subject_id"))
		require.Equal(t, "25", r.URL.Query().Get("limit"))
		require.Empty(t, r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"chats":[{"chat_id":"a","updated_at":"2024-01-01T00:00:00Z"},{"chat_id":"b","updated_at":"2024-02-01T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	chats, err := c.ListChats(context.Background(), "user-1", 25)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	require.Equal(t, "b", chats[0].ChatID)
}

func TestClient_ListChats_RequiresSubject(t *testing.T) {
	c, _ := newTestClient(t, "http://unused")
	_, err := c.ListChats(context.Background(), " ", 10)
	require.Equal(t, domain.ErrorInvalidInput, domain.KindOf(err))
}

func TestClient_ReadHistory(t *testing.T) {
	id := domain.Identity{SubjectID: "user-1", ChatID: "6f1c2d7e-8a1b-4c3d-9e2f-0a1b2c3d4e5f"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathHistoryRead, r.URL.Path)
		require.Equal(t, id.ChatID, r.URL.Query().Get("chat_id"))
		require.False(t, r.URL.Query().Has("limit"))
		_, _ = w.Write([]byte(`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	msgs, err := c.ReadHistory(context.Background(), id, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	_, err = c.ReadHistory(context.Background(), domain.Identity{SubjectID: "user-1", ChatID: "NOT-A-UUID"}, 0)
	require.Equal(t, domain.ErrorInvalidInput, domain.KindOf(err))
}

func TestClient_DeclareSchema(t *testing.T) {
	statuses := []int{http.StatusCreated, http.StatusConflict, http.StatusBadRequest}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathSchemas, r.URL.Path)
		var s Schema
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
		require.Equal(t, "receipts", s.TypeName)
		require.Equal(t, "string", s.Fields["store_name"].Type)
		w.WriteHeader(statuses[hits.Add(1)-1])
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	schema := Schema{TypeName: "receipts", Fields: map[string]SchemaField{"store_name": {Type: "string", Required: true}}}

	require.NoError(t, c.DeclareSchema(context.Background(), schema))
	require.NoError(t, c.DeclareSchema(context.Background(), schema), "409 means already declared")
	err := c.DeclareSchema(context.Background(), schema)
	require.Error(t, err)
	code, _ := domain.StatusOf(err)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestClient_CreateAndDeleteRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			require.Equal(t, "/api/v1/records/receipts", r.URL.Path)
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.JSONEq(t, `{"subject_id":"user-1","data":{"id":"r1","store_name":"Acme"}}`, string(raw))
			_, _ = w.Write([]byte(`{"record":{"id":"r1"}}`))
		case http.MethodDelete:
			require.Equal(t, "/api/v1/records/receipts/r%201", r.URL.EscapedPath())
			require.Equal(t, "user-1", r.URL.Query().Get("subject_id"))
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	fields := jsonvalue.Object{"id": jsonvalue.String("r1"), "store_name": jsonvalue.String("Acme")}
	_, err := c.CreateRecord(context.Background(), "receipts", "user-1", fields)
	require.NoError(t, err)

	require.NoError(t, c.DeleteRecord(context.Background(), "receipts", "r 1", "user-1"))
	require.Equal(t, domain.ErrorInvalidInput, domain.KindOf(c.DeleteRecord(context.Background(), "receipts", "", "user-1")))
}

func TestClient_QueryRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/records/receipt_items/query", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"subject_id":"user-1","where":{"receipt_id":"r1"},"order_by":"item_name","limit":50}`, string(raw))
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.QueryRecords(context.Background(), "receipt_items", Query{
		SubjectID: "user-1",
		Where:     map[string]any{"receipt_id": "r1"},
		OrderBy:   "item_name",
		Limit:     50,
	})
	require.NoError(t, err)

	_, err = c.QueryRecords(context.Background(), "", Query{})
	require.Equal(t, domain.ErrorInvalidInput, domain.KindOf(err))
}
