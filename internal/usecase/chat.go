package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/integrations/mnx"
)

const (
	defaultHistoryLimit = 50
	chatTemperature     = 0.3
)

type ChatClient interface {
	Complete(ctx context.Context, req mnx.ChatRequest) (string, error)
	OpenStream(ctx context.Context, req mnx.ChatRequest) (*mnx.Stream, error)
	ListChats(ctx context.Context, subjectID string, limit int) ([]domain.ChatSummary, error)
	ReadHistory(ctx context.Context, id domain.Identity, limit int) ([]domain.HistoryMessage, error)
}

// ChatService answers questions about saved receipts within a thread.
type ChatService struct {
	client ChatClient
	model  string
	logger *slog.Logger
}

func NewChatService(client ChatClient, model string, logger *slog.Logger) (*ChatService, error) {
	if client == nil {
		return nil, errors.New("usecase: chat client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{client: client, model: model, logger: logger}, nil
}

// Send returns the full assistant answer for message.
func (s *ChatService) Send(ctx context.Context, id domain.Identity, message string) (string, error) {
	req, err := s.request(id, message)
	if err != nil {
		return "", err
	}
	return s.complete(ctx, req)
}

// Stream yields the answer for message as it is generated. When the service
// cannot stream the request, the whole answer is yielded as one chunk.
// Nothing is sent until the sequence is ranged over.
func (s *ChatService) Stream(ctx context.Context, id domain.Identity, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		req, err := s.request(id, message)
		if err != nil {
			yield("", err)
			return
		}

		stream, err := s.client.OpenStream(ctx, req)
		if err != nil {
			if !streamUnsupported(err) {
				yield("", err)
				return
			}
			s.logger.Info("chat: streaming unavailable, falling back", "chat_id", id.ChatID, "err", err)
			answer, err := s.complete(ctx, req)
			if err != nil {
				yield("", err)
				return
			}
			yield(answer, nil)
			return
		}
		defer func() { _ = stream.Close() }()

		for chunk, err := range stream.Chunks() {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

func (s *ChatService) ListChats(ctx context.Context, subjectID string, limit int) ([]domain.ChatSummary, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, domain.InvalidInput("subject_id_missing", nil)
	}
	return s.client.ListChats(ctx, strings.TrimSpace(subjectID), limit)
}

func (s *ChatService) ReadHistory(ctx context.Context, id domain.Identity, limit int) ([]domain.HistoryMessage, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.client.ReadHistory(ctx, id, limit)
}

func (s *ChatService) request(id domain.Identity, message string) (mnx.ChatRequest, error) {
	if err := id.Validate(); err != nil {
		return mnx.ChatRequest{}, err
	}
	if strings.TrimSpace(message) == "" {
		return mnx.ChatRequest{}, domain.InvalidInput("message_missing", nil)
	}
	return mnx.ChatRequest{
		Model:       s.model,
		Messages:    buildChatMessages(message),
		Temperature: chatTemperature,
		Context: &mnx.Context{
			SubjectID: id.SubjectID,
			ChatID:    id.ChatID,
			History:   true,
			Learn:     true,
			Recall:    true,
			Records: &mnx.RecordsContext{
				Recall: true,
				Tables: []string{domain.TableReceipts, domain.TableReceiptItems},
			},
		},
	}, nil
}

func (s *ChatService) complete(ctx context.Context, req mnx.ChatRequest) (string, error) {
	req.Stream = false
	answer, err := s.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("usecase: chat answer: %w", err)
	}
	return answer, nil
}

// streamUnsupported reports whether opening a stream failed because the
// service does not stream this endpoint.
func streamUnsupported(err error) bool {
	var e *domain.Error
	if !errors.As(err, &e) || e.Kind != domain.ErrorHTTPStatus {
		return false
	}
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return true
	case http.StatusBadRequest:
		body := strings.ToLower(e.Body)
		return strings.Contains(body, "stream") || strings.Contains(body, "sse")
	default:
		return false
	}
}
