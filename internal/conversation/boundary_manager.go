package conversation

import (
	"sort"
)

// Dirty reasons recorded in Stats.DirtyReasons
const (
	ReasonVisibleExchanges = "visibleExchanges"
	ReasonModel            = "model"
	ReasonSettings         = "settings"
	ReasonCatalog          = "catalog"
)

// BoundaryManager caches the boundary of one conversation and recomputes it
// only after a relevant change. It is not safe for concurrent use: give each
// conversation its own manager and drive it from a single goroutine.
//
// The visible set must not contain the unsent draft. The draft is covered by
// the user request allowance instead, so typing never invalidates the cache.
type BoundaryManager struct {
	predictor *Predictor
	exchanges []Exchange
	model     string
	settings  Settings

	dirty   bool
	pending map[string]struct{}
	last    *Boundary
}

// NewBoundaryManager creates a manager with the given initial settings
func NewBoundaryManager(predictor *Predictor, settings Settings) *BoundaryManager {
	return &BoundaryManager{
		predictor: predictor,
		settings:  settings,
		pending:   make(map[string]struct{}),
	}
}

// UpdateVisibleExchanges replaces the tracked exchanges with the caller's
// full chronological, already filtered view.
func (m *BoundaryManager) UpdateVisibleExchanges(exchanges []Exchange) {
	m.exchanges = append([]Exchange(nil), exchanges...)
	m.MarkDirty(ReasonVisibleExchanges)
}

// SetModel switches the target model
func (m *BoundaryManager) SetModel(id string) {
	if id == m.model {
		return
	}
	m.model = id
	m.MarkDirty(ReasonModel)
}

// ApplySettings applies a settings change. Only allowance or ratio changes
// affect the boundary; the trim ceiling is stored without invalidating.
func (m *BoundaryManager) ApplySettings(patch SettingsPatch) {
	changed := false
	if patch.UserRequestAllowance != nil && *patch.UserRequestAllowance != m.settings.UserRequestAllowance {
		m.settings.UserRequestAllowance = *patch.UserRequestAllowance
		changed = true
	}
	if patch.CharsPerToken != nil && *patch.CharsPerToken != m.settings.CharsPerToken {
		m.settings.CharsPerToken = *patch.CharsPerToken
		changed = true
	}
	if patch.MaxTrimAttempts != nil {
		m.settings.MaxTrimAttempts = *patch.MaxTrimAttempts
	}
	if changed {
		m.MarkDirty(ReasonSettings)
	}
}

// MarkDirty forces the next Boundary call to recompute
func (m *BoundaryManager) MarkDirty(reason string) {
	m.dirty = true
	if reason != "" {
		m.pending[reason] = struct{}{}
	}
}

// Dirty reports whether the next Boundary call will recompute
func (m *BoundaryManager) Dirty() bool {
	return m.dirty || m.last == nil
}

// Settings returns the current settings
func (m *BoundaryManager) Settings() Settings {
	return m.settings
}

// Model returns the tracked model, empty if never set
func (m *BoundaryManager) Model() string {
	return m.model
}

// Boundary returns the current boundary. While nothing relevant changed the
// same pointer is returned, so callers can compare pointers to detect change.
func (m *BoundaryManager) Boundary() *Boundary {
	if !m.dirty && m.last != nil {
		return m.last
	}

	b := m.predictor.Predict(m.exchanges, PredictOptions{
		CharsPerToken:     m.settings.CharsPerToken,
		ReservedAllowance: m.settings.UserRequestAllowance,
		Model:             m.model,
	})

	reasons := make([]string, 0, len(m.pending))
	for r := range m.pending {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	b.Stats.DirtyReasons = reasons

	m.pending = make(map[string]struct{})
	m.dirty = false
	m.last = b
	return b
}
