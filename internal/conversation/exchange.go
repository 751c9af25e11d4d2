package conversation

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/s33g/prompter/internal/config"
)

// Exchange is one user turn plus its assistant reply. AssistantText stays
// empty while the reply is in flight; Error is set when the send failed.
type Exchange struct {
	ID            string    `json:"id"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text,omitempty"`
	Model         string    `json:"model"`
	CreatedAt     time.Time `json:"created_at"`
	Error         string    `json:"error,omitempty"`
}

// Pending reports whether the exchange is still waiting for a reply
func (e Exchange) Pending() bool {
	return e.AssistantText == "" && e.Error == ""
}

// SortChronological orders exchanges by CreatedAt, keeping the relative
// order of equal timestamps.
func SortChronological(exchanges []Exchange) {
	sort.SliceStable(exchanges, func(i, j int) bool {
		return exchanges[i].CreatedAt.Before(exchanges[j].CreatedAt)
	})
}

// Settings are the externally owned budget knobs
type Settings struct {
	UserRequestAllowance int
	CharsPerToken        float64
	MaxTrimAttempts      int
}

// SettingsFromConfig converts the budget section of the config
func SettingsFromConfig(b config.BudgetConfig) Settings {
	return Settings{
		UserRequestAllowance: b.UserRequestAllowance,
		CharsPerToken:        b.CharsPerToken,
		MaxTrimAttempts:      b.MaxTrimAttempts,
	}
}

// DefaultSettings returns the settings of the default config
func DefaultSettings() Settings {
	return SettingsFromConfig(config.DefaultConfig().Budget)
}

// SettingsPatch carries only the fields a settings change touched
type SettingsPatch struct {
	UserRequestAllowance *int
	CharsPerToken        *float64
	MaxTrimAttempts      *int
}

// Patch returns a patch setting every field to s
func (s Settings) Patch() SettingsPatch {
	return SettingsPatch{
		UserRequestAllowance: &s.UserRequestAllowance,
		CharsPerToken:        &s.CharsPerToken,
		MaxTrimAttempts:      &s.MaxTrimAttempts,
	}
}

// MarshalExchange converts an Exchange to JSON for storage
func MarshalExchange(e Exchange) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalExchange converts JSON to an Exchange
func UnmarshalExchange(data string) (Exchange, error) {
	var e Exchange
	err := json.Unmarshal([]byte(data), &e)
	return e, err
}
