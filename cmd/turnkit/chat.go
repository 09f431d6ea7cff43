package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chriscow/turnkit/pkg/dialogue"
	"github.com/chriscow/turnkit/pkg/generate"
	"github.com/chriscow/turnkit/pkg/iu"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the engine from the terminal",
	Long: `Read user turns from stdin, one per line, and print each agent turn.
Type /quit or send EOF to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, err := buildEngine(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, cancel := signalContext()
		defer cancel()
		return ignoreCanceled(runChat(ctx, eng.orch, cmd.InOrStdin(), cmd.OutOrStdout()))
	},
}

// runChat submits each input line as a user turn and waits for its result.
func runChat(ctx context.Context, orch *dialogue.Orchestrator, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	var buf iu.Buffer
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			break
		}
		if line == "" {
			fmt.Fprint(out, "> ")
			continue
		}
		if err := orch.SubmitUserTurn(line); err != nil {
			return err
		}

		res, err := awaitResult(ctx, orch, &buf, runErr)
		if err != nil {
			return err
		}
		printResult(out, res, &buf)
		buf.Reset()
		fmt.Fprint(out, "> ")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// awaitResult applies update messages to buf until the turn's result
// arrives, then applies whatever updates are still queued.
func awaitResult(ctx context.Context, orch *dialogue.Orchestrator, buf *iu.Buffer, runErr <-chan error) (dialogue.TurnResult, error) {
	for {
		select {
		case <-ctx.Done():
			return dialogue.TurnResult{}, ctx.Err()
		case err := <-runErr:
			if err == nil {
				err = fmt.Errorf("engine stopped")
			}
			return dialogue.TurnResult{}, err
		case msg := <-orch.Updates():
			buf.Apply(msg)
		case res := <-orch.Results():
			drainUpdates(orch.Updates(), buf)
			return res, nil
		}
	}
}

func drainUpdates(updates <-chan iu.UpdateMessage, buf *iu.Buffer) {
	for {
		select {
		case msg := <-updates:
			buf.Apply(msg)
		default:
			return
		}
	}
}

func printResult(out io.Writer, res dialogue.TurnResult, buf *iu.Buffer) {
	if res.Err != nil {
		fmt.Fprintf(out, "! %v\n", res.Err)
		return
	}
	text := strings.TrimSpace(buf.Text())
	if text == "" {
		text = strings.TrimSpace(res.Text)
	}
	fmt.Fprintln(out, text)
	if res.Reason == generate.ReasonInterrupted || res.Reason == generate.ReasonMaxTokens {
		fmt.Fprintf(out, "  (%s)\n", res.Reason)
	}
}
