package resolve

import (
	"slices"
	"strings"
	"time"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/jsonvalue"
)

// DefaultStoreName is applied when a receipt row names no store.
const DefaultStoreName = "Unknown store"

var (
	receiptID          = IDAt("id", "record_id", "recordId", "_id", "receipt_id", "receiptId")
	receiptStore       = StringAt("store_name", "storeName", "merchant_name", "merchantName", "merchant", "store", "vendor")
	receiptTotal       = NumberAt("total", "total_amount", "totalAmount", "amount", "grand_total")
	receiptCurrency    = StringAt("currency", "currency_code", "currencyCode")
	receiptPurchasedAt = TimeAt("purchased_at", "purchasedAt", "purchase_date", "purchaseDate", "transaction_date", "date")
	receiptCapturedAt  = TimeAt("captured_at", "capturedAt", "created_at", "createdAt")
	receiptRawText     = StringAt("raw_text", "rawText", "ocr_text", "ocrText")

	itemID        = IDAt("id", "record_id", "recordId", "_id", "item_id", "itemId")
	itemReceiptID = IDAt("receipt_id", "receiptId", "receipt_record_id", "parent_id", "parentId")
	itemName      = StringAt("item_name", "itemName", "name", "description", "title")
	itemQuantity  = NumberAt("quantity", "qty", "count")
	itemUnitPrice = NumberAt("unit_price", "unitPrice", "price")
	itemLineTotal = NumberAt("line_total", "lineTotal", "total", "amount")
	itemCategory  = StringAt("category", "category_name", "categoryName")
)

// Receipts resolves receipt rows, newest purchase first. Rows without an id
// are dropped; other missing fields fall back to defaults.
func (r *Resolver) Receipts(body []byte) ([]domain.ReceiptRecord, error) {
	doc, err := Document(body)
	if err != nil {
		return nil, err
	}
	rows := r.Rows(domain.TableReceipts, doc, RecordKeys)

	out := make([]domain.ReceiptRecord, 0, len(rows))
	for _, row := range rows {
		if rec, ok := receiptFromRow(row); ok {
			out = append(out, rec)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.ReceiptRecord) int {
		return b.PurchasedAt.Compare(a.PurchasedAt)
	})
	return out, nil
}

func receiptFromRow(row jsonvalue.Object) (domain.ReceiptRecord, bool) {
	id, ok := field(row, receiptID)
	if !ok {
		return domain.ReceiptRecord{}, false
	}
	rec := domain.ReceiptRecord{
		ID:        id,
		StoreName: DefaultStoreName,
		Currency:  domain.DefaultCurrency,
	}
	if s, ok := field(row, receiptStore); ok {
		rec.StoreName = s
	}
	if n, ok := field(row, receiptTotal); ok {
		rec.Total = n
	}
	if c, ok := field(row, receiptCurrency); ok {
		rec.Currency = strings.ToUpper(c)
	}
	purchased, hasPurchased := field(row, receiptPurchasedAt)
	captured, hasCaptured := field(row, receiptCapturedAt)
	switch {
	case hasPurchased && hasCaptured:
		rec.PurchasedAt, rec.CapturedAt = purchased, captured
	case hasPurchased:
		rec.PurchasedAt, rec.CapturedAt = purchased, purchased
	case hasCaptured:
		rec.PurchasedAt, rec.CapturedAt = captured, captured
	}
	if raw, ok := field(row, receiptRawText); ok {
		rec.RawText = raw
	}
	return rec, true
}

// ReceiptItems resolves line items in server order. Rows missing their own id
// or the receipt linkage are dropped.
func (r *Resolver) ReceiptItems(body []byte) ([]domain.ReceiptItemRecord, error) {
	doc, err := Document(body)
	if err != nil {
		return nil, err
	}
	rows := r.Rows(domain.TableReceiptItems, doc, RecordKeys)

	out := make([]domain.ReceiptItemRecord, 0, len(rows))
	for _, row := range rows {
		id, ok := field(row, itemID)
		if !ok {
			continue
		}
		receipt, ok := field(row, itemReceiptID)
		if !ok {
			continue
		}
		item := domain.ReceiptItemRecord{ID: id, ReceiptID: receipt, ItemName: "Item"}
		if name, ok := field(row, itemName); ok {
			item.ItemName = name
		}
		if n, ok := field(row, itemQuantity); ok {
			item.Quantity = &n
		}
		if n, ok := field(row, itemUnitPrice); ok {
			item.UnitPrice = &n
		}
		if n, ok := field(row, itemLineTotal); ok {
			item.LineTotal = &n
		}
		if c, ok := field(row, itemCategory); ok {
			item.Category = &c
		}
		out = append(out, item)
	}
	return out, nil
}

// ReceiptFields is the inverse of the receipt coercion: the canonical field
// object written when creating a receipt record. Resolving it yields rec.
func ReceiptFields(rec domain.ReceiptRecord) jsonvalue.Object {
	obj := jsonvalue.Object{
		"id":         jsonvalue.String(rec.ID),
		"store_name": jsonvalue.String(rec.StoreName),
		"total":      jsonvalue.Float(rec.Total),
		"currency":   jsonvalue.String(rec.Currency),
	}
	if !rec.PurchasedAt.IsZero() {
		obj["purchased_at"] = jsonvalue.String(rec.PurchasedAt.UTC().Format(time.RFC3339Nano))
	}
	if !rec.CapturedAt.IsZero() {
		obj["captured_at"] = jsonvalue.String(rec.CapturedAt.UTC().Format(time.RFC3339Nano))
	}
	if rec.RawText != "" {
		obj["raw_text"] = jsonvalue.String(rec.RawText)
	}
	return obj
}
