package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type statusOutput struct {
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	Captures  *int   `json:"captures,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether service credentials are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			st := svc.Status.Status(cmd.Context())
			out := statusOutput{Connected: st.Connected, Reason: st.Reason, SubjectID: svc.SubjectID}
			if svc.Journal != nil && svc.SubjectID != "" {
				if summary, err := svc.Journal.GetSummary(cmd.Context(), svc.SubjectID); err == nil {
					out.Captures = &summary.Captures
				}
			}

			if rootOpts.JSON {
				return rootOpts.printer(cmd).JSON(out)
			}
			w := cmd.OutOrStdout()
			if out.Connected {
				_, _ = fmt.Fprintln(w, "connected")
			} else {
				_, _ = fmt.Fprintf(w, "disconnected: %s\n", out.Reason)
			}
			if out.SubjectID != "" {
				_, _ = fmt.Fprintf(w, "subject: %s\n", out.SubjectID)
			}
			if out.Captures != nil {
				_, _ = fmt.Fprintf(w, "captures: %d\n", *out.Captures)
			}
			return nil
		},
	}
}
