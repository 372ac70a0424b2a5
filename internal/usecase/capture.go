package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/integrations/mnx"
	"receipt-agent/internal/reconcile"
	"receipt-agent/internal/resolve"
)

// captureTemperature keeps extraction and persistence deterministic.
const captureTemperature = 0.0

// writeConflictMarkers identify a rejected records write in an error body.
var writeConflictMarkers = []string{"write_conflict", "write conflict", "writeconflict", "records_conflict"}

// CaptureClient is the slice of the service client used by captures.
type CaptureClient interface {
	DeclareSchema(ctx context.Context, s mnx.Schema) error
	CompleteRaw(ctx context.Context, req mnx.ChatRequest) ([]byte, error)
}

// CaptureJournal records completed captures. Optional.
type CaptureJournal interface {
	SaveCapture(ctx context.Context, rec domain.CaptureRecord) error
}

type CaptureService struct {
	client     CaptureClient
	reconciler *reconcile.Reconciler
	journal    CaptureJournal
	model      string
	logger     *slog.Logger
	schemas    []mnx.Schema

	schemaMu       sync.RWMutex
	schemasEnsured bool
}

type CaptureInput struct {
	SubjectID string
	Image     []byte
	MIMEType  string
	// OCRText is text already recognised on the device, if any.
	OCRText string
}

type CaptureOutput struct {
	ChatID          string
	ExtractedJSON   string
	Result          domain.RecordsSyncResult
	PrimaryRecordID string
}

type CaptureOption func(*CaptureService)

// WithJournal keeps a record of every completed capture.
func WithJournal(j CaptureJournal) CaptureOption {
	return func(s *CaptureService) {
		s.journal = j
	}
}

func WithCaptureLogger(logger *slog.Logger) CaptureOption {
	return func(s *CaptureService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewCaptureService(client CaptureClient, model string, opts ...CaptureOption) (*CaptureService, error) {
	if client == nil {
		return nil, errors.New("usecase: capture client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	schemas, err := RecordSchemas()
	if err != nil {
		return nil, err
	}
	s := &CaptureService{
		client:  client,
		model:   model,
		logger:  slog.Default(),
		schemas: schemas,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reconciler = reconcile.New(s.logger)
	return s, nil
}

// Capture runs one receipt image through schema declaration, extraction,
// validated persistence and reconciliation.
func (s *CaptureService) Capture(ctx context.Context, in CaptureInput) (CaptureOutput, error) {
	subject := strings.TrimSpace(in.SubjectID)
	if subject == "" {
		return CaptureOutput{}, domain.InvalidInput("subject_id_missing", nil)
	}
	if len(in.Image) == 0 {
		return CaptureOutput{}, domain.InvalidInput("image_missing", nil)
	}

	if err := s.EnsureSchemas(ctx); err != nil {
		return CaptureOutput{}, err
	}

	id := domain.Identity{SubjectID: subject, ChatID: domain.NewChatID()}
	extracted, err := s.extract(ctx, id, in)
	if err != nil {
		return CaptureOutput{}, err
	}

	result, err := s.persist(ctx, id, extracted)
	if err != nil {
		return CaptureOutput{}, err
	}

	out := CaptureOutput{ChatID: id.ChatID, ExtractedJSON: extracted, Result: result}
	if primary, ok := result.PrimaryRecordID(domain.TableReceipts); ok {
		out.PrimaryRecordID = primary
	}
	s.logger.Info("capture: records synced",
		"chat_id", id.ChatID,
		"created", len(result.Created),
		"updated", len(result.Updated),
		"actions", result.Actions,
		"primary_record_id", out.PrimaryRecordID,
	)
	s.journalCapture(ctx, id, out)
	return out, nil
}

// EnsureSchemas declares the capture tables once per service. A failure
// leaves the service unmarked so the next capture tries again.
func (s *CaptureService) EnsureSchemas(ctx context.Context) error {
	s.schemaMu.RLock()
	if s.schemasEnsured {
		s.schemaMu.RUnlock()
		return nil
	}
	s.schemaMu.RUnlock()

	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemasEnsured {
		return nil
	}

	for _, schema := range s.schemas {
		if err := s.client.DeclareSchema(ctx, schema); err != nil {
			return fmt.Errorf("usecase: declare schema %s: %w", schema.TypeName, err)
		}
	}
	s.schemasEnsured = true
	return nil
}

func (s *CaptureService) extract(ctx context.Context, id domain.Identity, in CaptureInput) (string, error) {
	noLog := false
	raw, err := s.client.CompleteRaw(ctx, mnx.ChatRequest{
		Model:       s.model,
		Messages:    buildExtractionMessages(imageDataURL(in.MIMEType, in.Image), in.OCRText),
		Temperature: captureTemperature,
		Context: &mnx.Context{
			SubjectID: id.SubjectID,
			ChatID:    id.ChatID,
			Log:       &noLog,
		},
	})
	if err != nil {
		return "", fmt.Errorf("usecase: extract receipt: %w", err)
	}
	text, err := resolve.AssistantText(raw)
	if err != nil {
		return "", fmt.Errorf("usecase: extract receipt: %w", err)
	}
	extracted, err := resolve.NormalizeJSONObject(text)
	if err != nil {
		return "", fmt.Errorf("usecase: extract receipt: %w", err)
	}
	s.logger.Debug("capture: extracted receipt", "chat_id", id.ChatID, "json", extracted)
	return extracted, nil
}

func (s *CaptureService) persist(ctx context.Context, id domain.Identity, extracted string) (domain.RecordsSyncResult, error) {
	req := persistRequest(s.model, id, extracted)
	if err := ValidatePersistRequest(req); err != nil {
		return domain.RecordsSyncResult{}, err
	}
	raw, err := s.client.CompleteRaw(ctx, req)
	if err != nil {
		if isWriteConflict(err) {
			return domain.RecordsSyncResult{}, domain.Parse("records_write_conflict", errors.Join(domain.ErrWriteConflict, err))
		}
		return domain.RecordsSyncResult{}, fmt.Errorf("usecase: persist receipt: %w", err)
	}
	return s.reconciler.Reconcile(raw), nil
}

func persistRequest(model string, id domain.Identity, extracted string) mnx.ChatRequest {
	return mnx.ChatRequest{
		Model:       model,
		Messages:    buildPersistMessages(extracted),
		Temperature: captureTemperature,
		Context: &mnx.Context{
			SubjectID: id.SubjectID,
			ChatID:    id.ChatID,
			Records: &mnx.RecordsContext{
				Learn:  true,
				Tables: []string{domain.TableReceipts, domain.TableReceiptItems},
				Sync:   true,
			},
		},
	}
}

func isWriteConflict(err error) bool {
	var e *domain.Error
	if !errors.As(err, &e) || e.Kind != domain.ErrorHTTPStatus {
		return false
	}
	body := strings.ToLower(e.Body)
	for _, m := range writeConflictMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

func (s *CaptureService) journalCapture(ctx context.Context, id domain.Identity, out CaptureOutput) {
	if s.journal == nil {
		return
	}
	rec := domain.CaptureRecord{
		SubjectID:       id.SubjectID,
		ChatID:          id.ChatID,
		CapturedAt:      time.Now().UTC(),
		PrimaryRecordID: out.PrimaryRecordID,
		Created:         len(out.Result.Created),
		Updated:         len(out.Result.Updated),
		Actions:         out.Result.Actions,
		MetadataMissing: out.Result.MetadataMissing(),
		ExtractedJSON:   out.ExtractedJSON,
	}
	if err := s.journal.SaveCapture(ctx, rec); err != nil {
		s.logger.Warn("capture: journal write failed", "chat_id", id.ChatID, "err", err)
	}
}
