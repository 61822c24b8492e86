package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pipeforge/conduit/api"
)

func newChatCommand() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively with one model",
		Long: `Starts an interactive conversation against the given model. The whole
conversation is replayed on every turn, so manifold pipes see full
context. Replies stream as they arrive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := buildHost(cmd)
			if err != nil {
				return err
			}
			if err := host.Start(); err != nil {
				shutdownHost(host)
				return err
			}
			defer shutdownHost(host)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Println(banner())
			fmt.Println(dimStyle.Render(fmt.Sprintf("Chatting with %s. /reset clears history, /quit or Ctrl-D leaves.", model)))

			var history []api.Message
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print(titleStyle.Render("you> "))
				line, ok := readLine(ctx, scanner)
				if !ok {
					fmt.Println()
					return nil
				}

				line = strings.TrimSpace(line)
				switch line {
				case "":
					continue
				case "/quit":
					return nil
				case "/reset":
					history = history[:0]
					fmt.Println(dimStyle.Render("History cleared."))
					continue
				}

				history = append(history, api.Message{Role: "user", Content: line})
				outcome := host.Invoke(ctx, model, api.Request{Stream: true, Messages: history})
				if !outcome.OK() {
					fmt.Println(errorStyle.Render(outcome.Reply()))
					history = history[:len(history)-1]
					continue
				}

				fmt.Print(dimStyle.Render(model + "> "))
				reply, err := relayStream(outcome.Result.Stream)
				if err != nil {
					fmt.Println(errorStyle.Render(fmt.Sprintf("Error: %v", err)))
					history = history[:len(history)-1]
					continue
				}
				history = append(history, api.Message{Role: "assistant", Content: reply})
			}
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "echo", "Model id to chat with")
	return cmd
}

// readLine reads one line on its own goroutine so a signal can end the
// loop while stdin blocks.
func readLine(ctx context.Context, scanner *bufio.Scanner) (string, bool) {
	scanned := make(chan bool, 1)
	go func() { scanned <- scanner.Scan() }()

	select {
	case ok := <-scanned:
		return scanner.Text(), ok
	case <-ctx.Done():
		return "", false
	}
}

// relayStream prints a streamed reply as it arrives and returns the
// collected text.
func relayStream(s api.Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for s.Next() {
		text := s.Chunk().Text
		b.WriteString(text)
		fmt.Print(text)
	}
	fmt.Println()
	return b.String(), s.Err()
}
