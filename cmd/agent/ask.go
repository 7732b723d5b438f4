package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and exit",
		Long:  "Answers a single question. The question is read from standard input when no argument is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				question = strings.TrimSpace(string(data))
			}
			if question == "" {
				return errors.New("no question given")
			}

			ctx := cmd.Context()
			container, err := newContainer(ctx, cmd, opts, nil)
			if err != nil {
				return err
			}
			defer container.Close()

			container.Logger.Info("Question received", "length", len(question))
			res, err := container.Agent.Run(ctx, question, turnOptions(opts)...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.raw {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Response.Message)
			}
			_, err = fmt.Fprintln(out, res.Text)
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&opts.files, "file", "f", nil, "attach a local file or URL (repeatable)")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print the provider message as JSON")
	return cmd
}
