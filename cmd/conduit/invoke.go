package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pipeforge/conduit/api"
)

func newInvokeCommand() *cobra.Command {
	var model string
	var stream bool

	cmd := &cobra.Command{
		Use:   "invoke [message...]",
		Short: "Send one message to a model",
		Example: `  conduit invoke -m echo hello world
  conduit invoke -m openai.gpt-4o --stream "Explain pipes"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := buildHost(cmd)
			if err != nil {
				return err
			}
			defer shutdownHost(host)

			req := api.Request{
				Stream:   stream,
				Messages: []api.Message{{Role: "user", Content: strings.Join(args, " ")}},
			}

			outcome := host.Invoke(cmd.Context(), model, req)
			if !outcome.OK() {
				// Failures are in-band; the reply already reads "Error: ..."
				fmt.Println(errorStyle.Render(outcome.Reply()))
				return nil
			}

			if outcome.Result.IsStream() {
				printStream(outcome.Result.Stream)
				return nil
			}
			fmt.Println(outcome.Reply())
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id to invoke (pipe or pipe.model)")
	cmd.Flags().BoolVar(&stream, "stream", false, "Consume the reply incrementally")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

// printStream relays a streamed reply to stdout as it arrives
func printStream(s api.Stream) {
	defer s.Close()
	for s.Next() {
		fmt.Print(s.Chunk().Text)
	}
	fmt.Println()
	if err := s.Err(); err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Error: %v", err)))
	}
}
