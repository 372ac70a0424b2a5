package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"receipt-agent/internal/domain"
)

// NewReceiptsCommand creates the receipts command.
func NewReceiptsCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "List captured receipts, most recent purchase first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			subject, err := svc.subject()
			if err != nil {
				return err
			}
			receipts, err := svc.Receipts.ListReceipts(cmd.Context(), subject, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(receipts))
			for _, r := range receipts {
				rows = append(rows, []string{r.ID, formatTime(r.PurchasedAt), r.StoreName, formatAmount(r.Total, r.Currency)})
			}
			return rootOpts.printer(cmd).Table(receipts, []string{"ID", "PURCHASED", "STORE", "TOTAL"}, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum receipts to list")

	cmd.AddCommand(newReceiptAddCommand(rootOpts))
	cmd.AddCommand(newReceiptDeleteCommand(rootOpts))

	return cmd
}

type receiptAddOptions struct {
	Store     string
	Total     float64
	Currency  string
	Purchased string
	Note      string
}

func newReceiptAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &receiptAddOptions{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a receipt by hand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := domain.ReceiptRecord{StoreName: opts.Store, Total: opts.Total, Currency: opts.Currency, RawText: opts.Note}
			if opts.Purchased != "" {
				t, err := parseDate(opts.Purchased)
				if err != nil {
					return err
				}
				rec.PurchasedAt = t
			}

			svc, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			subject, err := svc.subject()
			if err != nil {
				return err
			}
			created, err := svc.Receipts.CreateReceipt(cmd.Context(), subject, rec)
			if err != nil {
				return err
			}
			if rootOpts.JSON {
				return rootOpts.printer(cmd).JSON(created)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created receipt %s (%s, %s)\n",
				created.ID, created.StoreName, formatAmount(created.Total, created.Currency))
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "store name")
	cmd.Flags().Float64Var(&opts.Total, "total", 0, "amount paid")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "ISO currency code (default USD)")
	cmd.Flags().StringVar(&opts.Purchased, "purchased", "", "purchase date, YYYY-MM-DD or RFC 3339 (default now)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "free text kept with the receipt")
	_ = cmd.MarkFlagRequired("total")

	return cmd
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
}

func newReceiptDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <receipt-id>",
		Short: "Delete a receipt record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			subject, err := svc.subject()
			if err != nil {
				return err
			}
			if err := svc.Receipts.DeleteReceipt(cmd.Context(), subject, args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted receipt %s\n", args[0])
			return err
		},
	}
}

// NewItemsCommand creates the items command.
func NewItemsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "items <receipt-id>",
		Short: "List the line items of a receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			subject, err := svc.subject()
			if err != nil {
				return err
			}
			items, err := svc.Receipts.ListItems(cmd.Context(), subject, args[0])
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				category := "-"
				if it.Category != nil {
					category = *it.Category
				}
				rows = append(rows, []string{it.ItemName, formatOptNumber(it.Quantity), formatOptNumber(it.UnitPrice), formatOptNumber(it.LineTotal), category})
			}
			return rootOpts.printer(cmd).Table(items, []string{"ITEM", "QTY", "UNIT", "TOTAL", "CATEGORY"}, rows)
		},
	}
}
