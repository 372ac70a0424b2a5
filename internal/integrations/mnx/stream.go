package mnx

import (
	"bufio"
	"context"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/jsonvalue"
	"receipt-agent/internal/resolve"
)

const (
	streamDone      = "[DONE]"
	maxStreamLine   = 1 << 20
	initialLineSize = 64 << 10
)

// DecodeStream yields the text fragments carried by an event stream. Blank
// and "event:" lines are skipped, "data:" prefixes are stripped, and the
// terminator ends the sequence successfully. Lines that are not JSON objects
// are ignored.
func DecodeStream(r io.Reader) iter.Seq2[string, error] {
	return decodeStream(r, slog.Default())
}

func decodeStream(r io.Reader, logger *slog.Logger) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, initialLineSize), maxStreamLine)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "event:") {
				continue
			}
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				line = strings.TrimSpace(data)
			}
			if line == streamDone {
				return
			}
			v, err := jsonvalue.Parse([]byte(line))
			if err != nil {
				logger.Debug("mnx: skipping non-JSON stream line", "line", truncate(line, 120))
				continue
			}
			event, ok := jsonvalue.AsObject(v)
			if !ok {
				continue
			}
			if chunk, ok := resolve.StreamChunk(event); ok {
				if !yield(chunk, nil) {
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			yield("", domain.Transport("stream_read_failed", err))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Stream is an open streaming completion. It is single-pass: Chunks may be
// ranged over once, and the connection is closed when that loop ends for any
// reason.
type Stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	logger *slog.Logger

	used      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps an already open event stream body.
func NewStream(body io.ReadCloser, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{body: body, cancel: func() {}, logger: logger}
}

// Chunks yields text fragments as they arrive. Nothing is read ahead of the
// consumer.
func (s *Stream) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !s.used.CompareAndSwap(false, true) {
			yield("", domain.ErrStreamConsumed)
			return
		}
		defer func() { _ = s.Close() }()
		for chunk, err := range decodeStream(s.body, s.logger) {
			if !yield(chunk, err) {
				return
			}
		}
	}
}

// Close releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
		s.cancel()
	})
	return s.closeErr
}

// OpenStream starts a streaming completion. Failures to open, including
// non-2xx statuses, are returned here so callers can decide on a fallback.
func (c *Client) OpenStream(ctx context.Context, req ChatRequest) (*Stream, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Stream = true
	res, cancel, err := c.send(ctx, request{
		method: http.MethodPost,
		path:   pathCompletions,
		body:   req,
		class:  classStream,
	})
	if err != nil {
		return nil, err
	}
	return &Stream{body: res.Body, cancel: cancel, logger: c.logger}, nil
}
