package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/s33g/prompter/internal/app"
	"github.com/s33g/prompter/internal/catalog"
	"github.com/s33g/prompter/internal/config"
	"github.com/s33g/prompter/internal/conversation"
	"github.com/s33g/prompter/internal/llm"
	"github.com/s33g/prompter/internal/ratelimit"
	"github.com/s33g/prompter/internal/storage"
	"github.com/s33g/prompter/internal/tokens"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "prompter",
		Short:         "Chat with LLM providers inside each model's context budget",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().String("config", "config/config.yaml", "Path to configuration file")
	root.PersistentFlags().String("conversation", "", "Conversation id (default: a new conversation)")
	root.PersistentFlags().String("model", "", "Model as provider/model (default: the conversation's model)")
	root.PersistentFlags().Bool("memory", false, "Keep the conversation in memory instead of Redis")

	root.AddCommand(newChatCmd(), newBoundaryCmd(), newCalibrateCmd())
	return root
}

// runtime holds the process-wide components shared by the commands
type runtime struct {
	configPath string
	current    atomic.Pointer[config.Config]
	logger     zerolog.Logger
	registry   *llm.Registry
	predictor  *conversation.Predictor
	store      app.ExchangeStore
	limiter    *ratelimit.Limiter
	redis      *storage.Client
}

func newLogger(w io.Writer, cfg config.LoggingConfig) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(w)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
	}
	return logger.Level(cfg.ParseLevel()).With().Timestamp().Logger()
}

func setup(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	configPath, _ := cmd.Flags().GetString("config")
	memory, _ := cmd.Flags().GetBool("memory")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		configPath: configPath,
		logger:     newLogger(cmd.ErrOrStderr(), cfg.Logging),
	}
	rt.current.Store(cfg)

	logger := rt.logger.With().Str("component", "main").Logger()
	logger.Debug().Str("path", configPath).Msg("Configuration loaded")

	rt.registry, err = llm.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}

	source := catalog.Chain{catalog.NewConfigSource(rt.current.Load), catalog.BuiltinSource{}}
	resolver := catalog.NewResolver(source, cfg.Defaults.MaxContextTokens)
	rt.predictor = conversation.NewPredictor(resolver, tokens.NewEstimator(), cfg.Budget.DefaultModel)

	if memory {
		rt.store = conversation.NewMemoryStore(cfg.Defaults.MessageHistoryLimit)
		logger.Info().Msg("Using in-memory conversation store")
		return rt, nil
	}

	rt.redis, err = storage.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("%w (use --memory to run without Redis)", err)
	}
	rt.store = conversation.NewStore(rt.redis, cfg.Defaults.ConversationTTL(), cfg.Defaults.MessageHistoryLimit)

	rt.limiter, err = ratelimit.NewLimiter(ctx, rt.redis)
	if err != nil {
		logger.Warn().Err(err).Msg("Token window limiter disabled")
		rt.limiter = nil
	}

	return rt, nil
}

// newSession builds the session named by the command flags and loads it
func (rt *runtime) newSession(ctx context.Context, cmd *cobra.Command, opts app.Options) (*app.Session, error) {
	opts.ConversationID, _ = cmd.Flags().GetString("conversation")
	opts.Model, _ = cmd.Flags().GetString("model")
	opts.Settings = conversation.SettingsFromConfig(rt.current.Load().Budget)
	opts.MaxExchanges = rt.current.Load().Defaults.MessageHistoryLimit
	if rt.limiter != nil {
		opts.Limiter = rt.limiter
	}

	if opts.Model != "" {
		if _, _, err := rt.current.Load().ResolveModel(opts.Model); err != nil {
			return nil, err
		}
	}

	session := app.NewSession(rt.store, rt.predictor, rt.registry, opts, rt.logger)
	if err := session.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return session, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Warn().Err(err).Msg("Failed to close Redis")
		}
	}
}
