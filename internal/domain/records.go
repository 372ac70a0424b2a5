package domain

import "time"

// Record tables declared by the capture workflow.
const (
	TableReceipts     = "receipts"
	TableReceiptItems = "receipt_items"
)

// DefaultCurrency is applied when a receipt row carries no currency code.
const DefaultCurrency = "USD"

// ReceiptRecord is one captured purchase.
type ReceiptRecord struct {
	ID          string    `json:"id"`
	StoreName   string    `json:"store_name"`
	Total       float64   `json:"total"`
	Currency    string    `json:"currency"`
	PurchasedAt time.Time `json:"purchased_at"`
	CapturedAt  time.Time `json:"captured_at"`
	RawText     string    `json:"raw_text,omitempty"`
}

// ReceiptItemRecord is one line of a receipt.
type ReceiptItemRecord struct {
	ID        string   `json:"id"`
	ReceiptID string   `json:"receipt_id"`
	ItemName  string   `json:"item_name"`
	Quantity  *float64 `json:"quantity,omitempty"`
	UnitPrice *float64 `json:"unit_price,omitempty"`
	LineTotal *float64 `json:"line_total,omitempty"`
	Category  *string  `json:"category,omitempty"`
}

// RecordMutation is a single write the service reports having performed.
// Empty fields mean the service did not say.
type RecordMutation struct {
	ID     string `json:"id,omitempty"`
	Table  string `json:"table,omitempty"`
	Action string `json:"action,omitempty"`
}

// ActionMetadataMissing tags a sync result whose response described no writes.
const ActionMetadataMissing = "records_sync_metadata_missing"

// RecordsSyncResult is the deduplicated outcome of one persistence call.
type RecordsSyncResult struct {
	Created []RecordMutation `json:"created"`
	Updated []RecordMutation `json:"updated"`
	Actions []string         `json:"actions"`
}

// MetadataMissing reports whether the result carries the degenerate tag.
func (r RecordsSyncResult) MetadataMissing() bool {
	for _, a := range r.Actions {
		if a == ActionMetadataMissing {
			return true
		}
	}
	return false
}

// PrimaryRecordID picks the id most likely to identify the root entity written.
func (r RecordsSyncResult) PrimaryRecordID(rootTable string) (string, bool) {
	all := make([]RecordMutation, 0, len(r.Created)+len(r.Updated))
	all = append(all, r.Created...)
	all = append(all, r.Updated...)
	for _, m := range all {
		if m.Table == rootTable && m.ID != "" {
			return m.ID, true
		}
	}
	for _, m := range all {
		if m.ID != "" {
			return m.ID, true
		}
	}
	return "", false
}
