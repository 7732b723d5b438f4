package main

import (
	"errors"
	"io"
	"strings"

	"search-agent/internal/infrastructure/userinteraction"

	"github.com/spf13/cobra"
)

const chatHelp = `Commands: /reset clears the conversation, /system <prompt> replaces the system prompt, /exit quits.`

func newChatCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			console := userinteraction.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout(), opts.verbose)

			container, err := newContainer(ctx, cmd, opts, console)
			if err != nil {
				return err
			}
			defer container.Close()

			console.ShowReply(ctx, chatHelp)
			for {
				line, err := console.ReadLine(ctx, "> ")
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}

				switch {
				case line == "":
					continue
				case line == "/exit" || line == "/quit":
					return nil
				case line == "/reset":
					container.Agent.Reset()
					console.ShowReply(ctx, "Conversation cleared.")
					continue
				case strings.HasPrefix(line, "/system "):
					container.Agent.SetSystemPrompt(strings.TrimSpace(strings.TrimPrefix(line, "/system ")))
					console.ShowReply(ctx, "System prompt updated; conversation cleared.")
					continue
				}

				res, err := container.Agent.Run(ctx, line, turnOptions(opts)...)
				if err != nil {
					console.ShowError(ctx, err)
					continue
				}
				console.ShowReply(ctx, res.Text)
			}
		},
	}
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "answer each line without conversation history")
	return cmd
}
