package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/integrations/mnx"
	"receipt-agent/internal/jsonvalue"
	"receipt-agent/internal/resolve"
)

const defaultReceiptLimit = 100

type RecordsClient interface {
	ListRecords(ctx context.Context, table, subjectID string, limit int) ([]byte, error)
	QueryRecords(ctx context.Context, table string, q mnx.Query) ([]byte, error)
	CreateRecord(ctx context.Context, table, subjectID string, fields jsonvalue.Object) ([]byte, error)
	DeleteRecord(ctx context.Context, table, id, subjectID string) error
}

// ReceiptService reads and edits the receipt tables directly.
type ReceiptService struct {
	client   RecordsClient
	resolver *resolve.Resolver
	now      func() time.Time
}

func NewReceiptService(client RecordsClient, logger *slog.Logger) (*ReceiptService, error) {
	if client == nil {
		return nil, errors.New("usecase: records client must not be nil")
	}
	return &ReceiptService{client: client, resolver: resolve.New(logger), now: time.Now}, nil
}

// ListReceipts returns the subject's receipts, most recent purchase first.
func (s *ReceiptService) ListReceipts(ctx context.Context, subjectID string, limit int) ([]domain.ReceiptRecord, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, domain.InvalidInput("subject_id_missing", nil)
	}
	if limit <= 0 {
		limit = defaultReceiptLimit
	}
	raw, err := s.client.ListRecords(ctx, domain.TableReceipts, subjectID, limit)
	if err != nil {
		return nil, err
	}
	return s.resolver.Receipts(raw)
}

// ListItems returns the line items recorded for one receipt.
func (s *ReceiptService) ListItems(ctx context.Context, subjectID, receiptID string) ([]domain.ReceiptItemRecord, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, domain.InvalidInput("subject_id_missing", nil)
	}
	receiptID = strings.TrimSpace(receiptID)
	if receiptID == "" {
		return nil, domain.InvalidInput("receipt_id_missing", nil)
	}
	raw, err := s.client.QueryRecords(ctx, domain.TableReceiptItems, mnx.Query{
		SubjectID: subjectID,
		Where:     map[string]any{"receipt_id": receiptID},
		Limit:     defaultReceiptLimit,
	})
	if err != nil {
		return nil, err
	}
	return s.resolver.ReceiptItems(raw)
}

// CreateReceipt writes rec as a new receipt record. A missing id is
// generated and the defaults applied when reading are applied here too.
func (s *ReceiptService) CreateReceipt(ctx context.Context, subjectID string, rec domain.ReceiptRecord) (domain.ReceiptRecord, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return domain.ReceiptRecord{}, domain.InvalidInput("subject_id_missing", nil)
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = domain.NewChatID()
	}
	if strings.TrimSpace(rec.StoreName) == "" {
		rec.StoreName = resolve.DefaultStoreName
	}
	if strings.TrimSpace(rec.Currency) == "" {
		rec.Currency = domain.DefaultCurrency
	}
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = s.now().UTC()
	}
	if rec.PurchasedAt.IsZero() {
		rec.PurchasedAt = rec.CapturedAt
	}

	fields := resolve.ReceiptFields(rec)
	if _, err := s.client.CreateRecord(ctx, domain.TableReceipts, subjectID, fields); err != nil {
		return domain.ReceiptRecord{}, fmt.Errorf("usecase: create receipt: %w", err)
	}
	return rec, nil
}

func (s *ReceiptService) DeleteReceipt(ctx context.Context, subjectID, receiptID string) error {
	if strings.TrimSpace(receiptID) == "" {
		return domain.InvalidInput("receipt_id_missing", nil)
	}
	return s.client.DeleteRecord(ctx, domain.TableReceipts, strings.TrimSpace(receiptID), strings.TrimSpace(subjectID))
}
