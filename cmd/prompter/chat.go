package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/s33g/prompter/internal/app"
	"github.com/s33g/prompter/internal/config"
	"github.com/s33g/prompter/internal/conversation"
	"github.com/s33g/prompter/internal/send"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Read messages from stdin and print the replies.

Lines starting with a slash are commands:
  /model <provider/model>  switch models
  /boundary                show which history goes with the next message
  /clear                   forget the conversation history
  /quit                    exit`,
		RunE: runChat,
	}
	cmd.Flags().String("system", "", "System prompt for a new conversation")
	cmd.Flags().Bool("debug", false, "Log a context snapshot after every provider attempt")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	systemPrompt, _ := cmd.Flags().GetString("system")
	debug, _ := cmd.Flags().GetBool("debug")

	opts := app.Options{SystemPrompt: systemPrompt}
	if debug {
		debugLogger := rt.logger.With().Str("component", "debug").Logger()
		opts.OnDebug = func(d send.DebugPayload) {
			debugLogger.Info().
				Str("model", d.Model).
				Int("attempt", d.Attempt).
				Bool("final", d.Final).
				Int("included", len(d.IncludedIDs)).
				Int("excluded", d.ExcludedCount).
				Int("trimmed", d.TrimmedCount).
				Int("history_tokens", d.HistoryTokens).
				Int("user_tokens", d.UserTokens).
				Int("max_context", d.MaxContext).
				Int("max_usable", d.MaxUsable).
				Dur("fetch", d.Timings.Fetch).
				Dur("duration", d.Duration).
				Str("error", d.LastError).
				Msg("Context snapshot")
		}
	}

	session, err := rt.newSession(ctx, cmd, opts)
	if err != nil {
		return err
	}

	// The session is driven only from the loop below. Reloads arrive on the
	// watcher goroutine and are handed over through this channel.
	reloads := make(chan *config.Config, 1)
	watcher, err := config.NewWatcher(rt.configPath, func(cfg *config.Config) error {
		if err := rt.registry.Reload(cfg); err != nil {
			return err
		}
		rt.current.Store(cfg)
		select {
		case <-reloads:
		default:
		}
		reloads <- cfg
		return nil
	}, rt.logger)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("Config hot reload disabled")
	} else {
		watcher.Start(ctx)
	}

	lines := readLines(ctx, cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Conversation %s (%s). /quit to exit.\n", session.ID(), session.Boundary().Stats.Model)

	for {
		select {
		case <-ctx.Done():
			return nil

		case cfg := <-reloads:
			session.ApplySettings(conversation.SettingsFromConfig(cfg.Budget).Patch())
			session.CatalogChanged()

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				quit, err := runCommand(ctx, out, rt, session, line)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
				if quit {
					return nil
				}
				continue
			}

			result, err := session.Submit(ctx, line)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, result.Content)
			if result.TrimmedCount > 0 {
				fmt.Fprintf(out, "(dropped %d older exchanges to fit the context window)\n", result.TrimmedCount)
			}
		}
	}
}

func runCommand(ctx context.Context, out io.Writer, rt *runtime, session *app.Session, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/model":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /model <provider/model>")
		}
		if _, _, err := rt.current.Load().ResolveModel(fields[1]); err != nil {
			return false, err
		}
		if err := session.SetModel(ctx, fields[1]); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Model set to %s\n", fields[1])

	case "/boundary":
		printBoundary(out, session.Boundary())

	case "/clear":
		if err := session.Clear(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "History cleared")

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

// readLines feeds stdin to the event loop until EOF or ctx is done
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
