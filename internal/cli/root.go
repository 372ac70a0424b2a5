package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Subject    string
	Verbose    bool
	JSON       bool

	build    Builder
	services *Services
}

// NewRootCommand creates the root command for receiptctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(DefaultBuilder)
}

func newRootCommand(build Builder) *cobra.Command {
	opts := &RootOptions{build: build}

	cmd := &cobra.Command{
		Use:   "receiptctl",
		Short: "Capture receipts and chat about your spending",
		Long: `receiptctl captures receipt photos into structured records and answers
questions about them through a conversational records service.`,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ~/.receipt-agent/config.toml)")
	cmd.PersistentFlags().StringVarP(&opts.Subject, "subject", "s", "", "subject id (overrides MNX_SUBJECT_ID)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging to stderr")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print JSON instead of text")

	cmd.AddCommand(NewChatCommand(opts))
	cmd.AddCommand(NewChatsCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewReceiptsCommand(opts))
	cmd.AddCommand(NewItemsCommand(opts))
	cmd.AddCommand(NewCaptureCommand(opts))
	cmd.AddCommand(NewCapturesCommand(opts))
	cmd.AddCommand(NewSchemasCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// load builds the services once per invocation.
func (o *RootOptions) load(cmd *cobra.Command) (*Services, error) {
	if o.services != nil {
		return o.services, nil
	}
	s, err := o.build(cmd.Context(), o)
	if err != nil {
		return nil, err
	}
	o.services = s
	return s, nil
}

func (o *RootOptions) printer(cmd *cobra.Command) *printer {
	return &printer{json: o.JSON, w: cmd.OutOrStdout()}
}
