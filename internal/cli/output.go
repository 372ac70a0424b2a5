package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"receipt-agent/internal/domain"
)

// printer writes either indented JSON or aligned text.
type printer struct {
	json bool
	w    io.Writer
}

func (p *printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table prints rows under header in text mode, or v as JSON.
func (p *printer) Table(v any, header []string, rows [][]string) error {
	if p.json {
		return p.JSON(v)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.w, "(none)")
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	writeRow(tw, header)
	for _, r := range rows {
		writeRow(tw, r)
	}
	return tw.Flush()
}

func writeRow(w io.Writer, cols []string) {
	for i, c := range cols {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, c)
	}
	_, _ = fmt.Fprintln(w)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func formatOptNumber(n *float64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *n)
}

func formatAmount(total float64, currency string) string {
	return fmt.Sprintf("%.2f %s", total, currency)
}

func syncSummary(r domain.RecordsSyncResult) string {
	if r.MetadataMissing() {
		return "saved (the service did not report which records were written)"
	}
	return fmt.Sprintf("%d created, %d updated", len(r.Created), len(r.Updated))
}
