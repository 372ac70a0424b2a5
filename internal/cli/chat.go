package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"receipt-agent/internal/domain"
)

type chatOptions struct {
	ChatID   string
	NoStream bool
}

// NewChatCommand creates the chat command.
func NewChatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask a question about your receipts",
		Long: `Ask a question about your saved receipts. The answer is streamed as it is
generated unless --no-stream is given. Pass --chat-id to continue a thread.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(rootOpts, opts, cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&opts.ChatID, "chat-id", "", "continue an existing thread")
	cmd.Flags().BoolVar(&opts.NoStream, "no-stream", false, "wait for the whole answer")

	return cmd
}

func runChat(rootOpts *RootOptions, opts *chatOptions, cmd *cobra.Command, message string) error {
	svc, err := rootOpts.load(cmd)
	if err != nil {
		return err
	}
	subject, err := svc.subject()
	if err != nil {
		return err
	}
	id := domain.Identity{SubjectID: subject, ChatID: opts.ChatID}
	if id.ChatID == "" {
		id.ChatID = domain.NewChatID()
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.NoStream || rootOpts.JSON {
		answer, err := svc.Chat.Send(ctx, id, message)
		if err != nil {
			return err
		}
		if rootOpts.JSON {
			return rootOpts.printer(cmd).JSON(map[string]string{"chat_id": id.ChatID, "answer": answer})
		}
		_, _ = fmt.Fprintln(out, answer)
	} else {
		for chunk, err := range svc.Chat.Stream(ctx, id, message) {
			if err != nil {
				_, _ = fmt.Fprintln(out)
				return err
			}
			_, _ = fmt.Fprint(out, chunk)
		}
		_, _ = fmt.Fprintln(out)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "chat id: %s\n", id.ChatID)
	return nil
}

// NewChatsCommand creates the chats command.
func NewChatsCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List conversation threads, most recent first",
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
			chats, err := svc.Chat.ListChats(cmd.Context(), subject, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(chats))
			for _, c := range chats {
				count := "-"
				if c.MessageCount != nil {
					count = strconv.Itoa(*c.MessageCount)
				}
				rows = append(rows, []string{c.ChatID, formatTime(c.ActivityAt()), count, c.Title})
			}
			return rootOpts.printer(cmd).Table(chats, []string{"CHAT ID", "ACTIVITY", "MESSAGES", "TITLE"}, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum threads to list")

	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <chat-id>",
		Short: "Show the messages of a thread",
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
			msgs, err := svc.Chat.ReadHistory(cmd.Context(), domain.Identity{SubjectID: subject, ChatID: args[0]}, limit)
			if err != nil {
				return err
			}
			if rootOpts.JSON {
				return rootOpts.printer(cmd).JSON(msgs)
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				_, _ = fmt.Fprintf(out, "[%s] %s\n", m.Kind(), m.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum messages to show")

	return cmd
}
