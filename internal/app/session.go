// Package app wires the boundary manager, the send pipeline and the stores
// into one conversation session.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/s33g/prompter/internal/conversation"
	"github.com/s33g/prompter/internal/ratelimit"
	"github.com/s33g/prompter/internal/send"
	"github.com/s33g/prompter/internal/tokens"
)

// ExchangeStore persists a conversation and its exchanges
type ExchangeStore interface {
	Create(ctx context.Context, conv conversation.Conversation) error
	Get(ctx context.Context, id string) (*conversation.Conversation, error)
	UpdateModel(ctx context.Context, id, model string) error
	IncrementTokenCount(ctx context.Context, id string, tokens int) error
	List(ctx context.Context, convID string) ([]conversation.Exchange, error)
	Append(ctx context.Context, convID string, e conversation.Exchange) error
	UpdateReply(ctx context.Context, convID, exchangeID, assistantText, errText string) error
	Clear(ctx context.Context, convID string) error
}

// TokenReserver accounts request tokens against a model's per-minute limit
type TokenReserver interface {
	Reserve(ctx context.Context, model string, limit, tokens int) (*ratelimit.Reservation, error)
}

// Options configure a Session
type Options struct {
	ConversationID string // empty: a new conversation
	Model          string // empty: the stored model, then the newest exchange's
	SystemPrompt   string
	Settings       conversation.Settings
	Limiter        TokenReserver // optional
	OnDebug        func(send.DebugPayload)
	MaxExchanges   int // history kept in memory, 0 for unlimited
}

// Session is one conversation. It is not safe for concurrent use: all calls
// must come from the same goroutine.
type Session struct {
	id           string
	systemPrompt string
	store        ExchangeStore
	predictor    *conversation.Predictor
	manager      *conversation.BoundaryManager
	pipeline     *send.Pipeline
	limiter      TokenReserver
	onDebug      func(send.DebugPayload)
	logger       zerolog.Logger

	exchanges    []conversation.Exchange
	model        string
	maxExchanges int

	newID func() string
	now   func() time.Time
}

// NewSession creates a session. Call Load before the first Submit.
func NewSession(store ExchangeStore, predictor *conversation.Predictor, transport send.Transport, opts Options, logger zerolog.Logger) *Session {
	id := opts.ConversationID
	if id == "" {
		id = uuid.NewString()
	}

	logger = logger.With().Str("conversation", id).Logger()
	manager := conversation.NewBoundaryManager(predictor, opts.Settings)

	return &Session{
		id:           id,
		systemPrompt: opts.SystemPrompt,
		store:        store,
		predictor:    predictor,
		manager:      manager,
		pipeline:     send.NewPipeline(transport, predictor, manager.Settings, logger),
		limiter:      opts.Limiter,
		onDebug:      opts.OnDebug,
		logger:       logger.With().Str("component", "session").Logger(),
		model:        opts.Model,
		maxExchanges: opts.MaxExchanges,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// ID returns the conversation id
func (s *Session) ID() string {
	return s.id
}

// Load reads the conversation from the store, creating it when missing, and
// makes its answered exchanges the visible set.
func (s *Session) Load(ctx context.Context) error {
	conv, err := s.store.Get(ctx, s.id)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		conv = &conversation.Conversation{ID: s.id, Model: s.model, SystemPrompt: s.systemPrompt}
		if err := s.store.Create(ctx, *conv); err != nil {
			return err
		}
		s.logger.Info().Str("model", s.model).Msg("Created conversation")
	case err != nil:
		return err
	}

	if s.model == "" {
		s.model = conv.Model
	}
	if s.systemPrompt == "" {
		s.systemPrompt = conv.SystemPrompt
	}

	exchanges, err := s.store.List(ctx, s.id)
	if err != nil {
		return err
	}
	s.exchanges = exchanges
	s.trimHistory()

	s.manager.SetModel(s.model)
	s.refreshVisible()

	s.logger.Debug().Int("exchanges", len(exchanges)).Msg("Loaded conversation")
	return nil
}

// SetModel switches the conversation to another model
func (s *Session) SetModel(ctx context.Context, model string) error {
	if model == s.model {
		return nil
	}
	if err := s.store.UpdateModel(ctx, s.id, model); err != nil {
		return err
	}
	s.model = model
	s.manager.SetModel(model)
	return nil
}

// ApplySettings pushes changed budget settings into the boundary manager
func (s *Session) ApplySettings(patch conversation.SettingsPatch) {
	s.manager.ApplySettings(patch)
}

// CatalogChanged invalidates the boundary after model metadata was reloaded
func (s *Session) CatalogChanged() {
	s.manager.MarkDirty(conversation.ReasonCatalog)
}

// Boundary returns the current boundary snapshot
func (s *Session) Boundary() *conversation.Boundary {
	return s.manager.Boundary()
}

// Exchanges returns a copy of the stored exchanges, failed ones included
func (s *Session) Exchanges() []conversation.Exchange {
	return append([]conversation.Exchange(nil), s.exchanges...)
}

// Clear removes every exchange from the conversation
func (s *Session) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx, s.id); err != nil {
		return err
	}
	s.forget(s.exchanges)
	s.exchanges = nil
	s.refreshVisible()
	return nil
}

// Submit sends text as a new turn. The exchange is stored before the
// provider is called, with an empty reply, and the reply or the failure is
// written back to it afterwards. The new exchange is never part of its own
// history.
func (s *Session) Submit(ctx context.Context, text string) (*send.Result, error) {
	boundary := s.manager.Boundary()
	model := boundary.Stats.Model

	exchange := conversation.Exchange{
		ID:        s.newID(),
		UserText:  text,
		Model:     model,
		CreatedAt: s.now(),
	}
	if err := s.store.Append(ctx, s.id, exchange); err != nil {
		return nil, fmt.Errorf("failed to store exchange: %w", err)
	}

	result, err := s.deliver(ctx, boundary, model, text)

	// The outcome is recorded even when ctx was cancelled
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		exchange.Error = err.Error()
	} else {
		exchange.AssistantText = result.Content
	}
	if werr := s.store.UpdateReply(writeCtx, s.id, exchange.ID, exchange.AssistantText, exchange.Error); werr != nil {
		s.logger.Error().Err(werr).Str("exchange", exchange.ID).Msg("Failed to record reply")
	}
	if err == nil && result.Usage.TotalTokens > 0 {
		if werr := s.store.IncrementTokenCount(writeCtx, s.id, result.Usage.TotalTokens); werr != nil {
			s.logger.Warn().Err(werr).Msg("Failed to update token count")
		}
	}

	s.exchanges = append(s.exchanges, exchange)
	s.trimHistory()
	s.refreshVisible()

	return result, err
}

// refreshVisible hands the answered exchanges to the boundary manager.
// Pending, failed and never-sent turns stay stored for display but are not
// history: resending them would duplicate the user's text, and an oversized
// one would block every older exchange.
func (s *Session) refreshVisible() {
	visible := make([]conversation.Exchange, 0, len(s.exchanges))
	for _, e := range s.exchanges {
		if answered(e) {
			visible = append(visible, e)
		}
	}
	s.manager.UpdateVisibleExchanges(visible)
}

func answered(e conversation.Exchange) bool {
	return !e.Pending() && e.Error == ""
}

// trimHistory applies the same cap the store applies to its list
func (s *Session) trimHistory() {
	if s.maxExchanges <= 0 || len(s.exchanges) <= s.maxExchanges {
		return
	}
	drop := len(s.exchanges) - s.maxExchanges
	s.forget(s.exchanges[:drop])
	s.exchanges = append([]conversation.Exchange(nil), s.exchanges[drop:]...)
}

func (s *Session) forget(exchanges []conversation.Exchange) {
	for _, e := range exchanges {
		s.predictor.Forget(e.ID)
	}
}

func (s *Session) deliver(ctx context.Context, boundary *conversation.Boundary, model, text string) (*send.Result, error) {
	if err := s.reserve(ctx, boundary, model, text); err != nil {
		return nil, err
	}

	return s.pipeline.Send(ctx, send.Request{
		Model:        model,
		UserText:     text,
		SystemPrompt: s.systemPrompt,
		Boundary:     boundary,
		OnDebug:      s.onDebug,
	})
}

// reserve charges the predicted request size against the model's
// tokens-per-minute window. Limiter outages do not block sends.
func (s *Session) reserve(ctx context.Context, boundary *conversation.Boundary, model, text string) error {
	if s.limiter == nil || boundary.Stats.TokensPerMinute <= 0 {
		return nil
	}

	estimate := boundary.Stats.PredictedHistoryTokens + tokens.EstimateTokens(text, boundary.Stats.CharsPerToken)
	res, err := s.limiter.Reserve(ctx, model, boundary.Stats.TokensPerMinute, estimate)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Token window check failed, sending anyway")
		return nil
	}
	if res.Allowed {
		return nil
	}

	s.logger.Warn().
		Str("model", model).
		Int("estimate", estimate).
		Int("remaining", res.TokensRemaining).
		Dur("retry_after", res.RetryAfter).
		Msg("Token window full")

	return &send.Error{
		Kind:  send.Unclassified,
		Model: model,
		Err:   fmt.Errorf("%w: retry in %s", ratelimit.ErrLimited, res.RetryAfter),
	}
}
