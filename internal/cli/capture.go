package cli

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"receipt-agent/internal/usecase"
)

type captureOptions struct {
	MIMEType string
	OCRFile  string
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &captureOptions{}

	cmd := &cobra.Command{
		Use:   "capture <image-file>",
		Short: "Extract a receipt photo into records",
		Long: `Send a receipt photo to the service, extract the purchase and its line
items, and write them synchronously into the receipts tables.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(rootOpts, opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.MIMEType, "mime", "", "image type (default from the file extension)")
	cmd.Flags().StringVar(&opts.OCRFile, "ocr-text", "", "file with text already recognised on the receipt")

	return cmd
}

func runCapture(rootOpts *RootOptions, opts *captureOptions, cmd *cobra.Command, path string) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	in := usecase.CaptureInput{Image: image, MIMEType: opts.MIMEType}
	if in.MIMEType == "" {
		in.MIMEType = mime.TypeByExtension(filepath.Ext(path))
	}
	if opts.OCRFile != "" {
		text, err := os.ReadFile(opts.OCRFile)
		if err != nil {
			return fmt.Errorf("read OCR text: %w", err)
		}
		in.OCRText = string(text)
	}

	svc, err := rootOpts.load(cmd)
	if err != nil {
		return err
	}
	if in.SubjectID, err = svc.subject(); err != nil {
		return err
	}

	out, err := svc.Capture.Capture(cmd.Context(), in)
	if err != nil {
		return err
	}
	if rootOpts.JSON {
		return rootOpts.printer(cmd).JSON(out)
	}
	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "chat id:   %s\n", out.ChatID)
	if out.PrimaryRecordID != "" {
		_, _ = fmt.Fprintf(w, "receipt:   %s\n", out.PrimaryRecordID)
	}
	_, _ = fmt.Fprintf(w, "records:   %s\n", syncSummary(out.Result))
	_, _ = fmt.Fprintf(w, "extracted: %s\n", out.ExtractedJSON)
	return nil
}

var errJournalDisabled = errors.New("capture journal is not configured: set CAPTURE_TABLE")

// NewCapturesCommand creates the captures command.
func NewCapturesCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "captures",
		Short: "List recent capture outcomes from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			if svc.Journal == nil {
				return errJournalDisabled
			}
			subject, err := svc.subject()
			if err != nil {
				return err
			}
			recs, err := svc.Journal.ListCaptures(cmd.Context(), subject, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, []string{formatTime(r.CapturedAt), r.ChatID, r.PrimaryRecordID, strconv.Itoa(r.Created), strconv.Itoa(r.Updated)})
			}
			return rootOpts.printer(cmd).Table(recs, []string{"CAPTURED", "CHAT ID", "RECEIPT", "CREATED", "UPDATED"}, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum captures to list")

	return cmd
}

// NewSchemasCommand creates the schemas command.
func NewSchemasCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "Declare the receipt record tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			if err := svc.Capture.EnsureSchemas(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "record tables declared")
			return err
		},
	}
}
