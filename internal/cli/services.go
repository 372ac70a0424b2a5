package cli

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"strings"

	"receipt-agent/internal/app"
	"receipt-agent/internal/config"
	"receipt-agent/internal/domain"
	"receipt-agent/internal/integrations/mnx"
	"receipt-agent/internal/usecase"
)

type chatService interface {
	Send(ctx context.Context, id domain.Identity, message string) (string, error)
	Stream(ctx context.Context, id domain.Identity, message string) iter.Seq2[string, error]
	ListChats(ctx context.Context, subjectID string, limit int) ([]domain.ChatSummary, error)
	ReadHistory(ctx context.Context, id domain.Identity, limit int) ([]domain.HistoryMessage, error)
}

type receiptService interface {
	ListReceipts(ctx context.Context, subjectID string, limit int) ([]domain.ReceiptRecord, error)
	ListItems(ctx context.Context, subjectID, receiptID string) ([]domain.ReceiptItemRecord, error)
	CreateReceipt(ctx context.Context, subjectID string, rec domain.ReceiptRecord) (domain.ReceiptRecord, error)
	DeleteReceipt(ctx context.Context, subjectID, receiptID string) error
}

type captureService interface {
	Capture(ctx context.Context, in usecase.CaptureInput) (usecase.CaptureOutput, error)
	EnsureSchemas(ctx context.Context) error
}

type journalReader interface {
	ListCaptures(ctx context.Context, subjectID string, limit int) ([]domain.CaptureRecord, error)
	GetSummary(ctx context.Context, subjectID string) (domain.CaptureSummary, error)
}

type statusReporter interface {
	Status(ctx context.Context) mnx.Status
}

// Services are what commands run against.
type Services struct {
	SubjectID string
	Chat      chatService
	Receipts  receiptService
	Capture   captureService
	Status    statusReporter
	// Journal is nil when no capture table is configured.
	Journal journalReader
}

var errSubjectMissing = errors.New("no subject id: pass --subject or set MNX_SUBJECT_ID")

func (s *Services) subject() (string, error) {
	if strings.TrimSpace(s.SubjectID) == "" {
		return "", errSubjectMissing
	}
	return s.SubjectID, nil
}

// Builder creates the services for one invocation.
type Builder func(ctx context.Context, opts *RootOptions) (*Services, error)

// DefaultBuilder loads configuration and wires the real service client.
func DefaultBuilder(ctx context.Context, opts *RootOptions) (*Services, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Subject != "" {
		cfg.SubjectID = opts.Subject
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &Services{
		SubjectID: cfg.SubjectID,
		Chat:      a.Chat,
		Receipts:  a.Receipts,
		Capture:   a.Capture,
		Status:    a.Client,
	}
	if a.Journal != nil {
		s.Journal = a.Journal
	}
	return s, nil
}
