package domain

import "time"

// GroupSettings holds the per-group detection parameters.
// Externally owned; cached locally with a short TTL.
type GroupSettings struct {
	GroupID       string
	MinWallets    int
	WindowMinutes int
}

// Hard defaults used when the settings provider is unavailable.
const (
	DefaultMinWallets    = 2
	DefaultWindowMinutes = 60
)

// RetentionHorizon is the maximum age a confluence can go without updates
// before it is deactivated, and the maximum lookback for eviction rollups.
const RetentionHorizon = 48 * time.Hour

// DefaultSettings returns the hard-coded fallback settings for a group.
func DefaultSettings(groupID string) GroupSettings {
	return GroupSettings{
		GroupID:       groupID,
		MinWallets:    DefaultMinWallets,
		WindowMinutes: DefaultWindowMinutes,
	}
}

// Window returns the detection window as a duration.
func (s GroupSettings) Window() time.Duration {
	return time.Duration(s.WindowMinutes) * time.Minute
}
