package feed

import "encoding/json"

// SlackConfig drives the chat-service watcher.
//
// Channels is an allow-list of channel ids or names; when empty the watcher
// discovers every channel the authenticated user is a member of (archived
// channels excluded). Keywords, when non-empty, require a case-insensitive
// substring hit in the message text before an item is emitted.
type SlackConfig struct {
	Enabled             bool     `json:"enabled"`
	PollIntervalSeconds int      `json:"pollIntervalSeconds"`
	Channels            []string `json:"channels,omitempty"`
	Keywords            []string `json:"keywords,omitempty"`
	WatchMentions       bool     `json:"watchMentions"`
	WatchDMs            bool     `json:"watchDms"`
	WatchThreads        bool     `json:"watchThreads"`
}

// GitHubConfig is the reserved section for the code-hosting watcher. The
// section participates in config merging and persistence so files written
// today keep working once that watcher lands.
type GitHubConfig struct {
	Enabled             bool     `json:"enabled"`
	PollIntervalSeconds int      `json:"pollIntervalSeconds"`
	Repos               []string `json:"repos,omitempty"`
}

// Config is the aggregate watcher configuration, persisted as one document.
// Enabled is the master switch; individual sections gate their own watcher.
type Config struct {
	Enabled bool         `json:"enabled"`
	Slack   SlackConfig  `json:"slack"`
	GitHub  GitHubConfig `json:"github"`
}

// DefaultConfig returns the configuration used for fresh installs and as the
// base layer when loading older persisted files.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Slack: SlackConfig{
			Enabled:             false,
			PollIntervalSeconds: 60,
			WatchMentions:       true,
			WatchDMs:            true,
			WatchThreads:        true,
		},
		GitHub: GitHubConfig{
			Enabled:             false,
			PollIntervalSeconds: 120,
		},
	}
}

// Clone returns a copy that shares no slices with the receiver.
func (c Config) Clone() Config {
	c.Slack.Channels = append([]string(nil), c.Slack.Channels...)
	c.Slack.Keywords = append([]string(nil), c.Slack.Keywords...)
	c.GitHub.Repos = append([]string(nil), c.GitHub.Repos...)
	return c
}

// DecodeConfig unmarshals a persisted configuration document over the
// defaults, so fields missing from older files keep their default values.
// Unknown fields are ignored here (forward compatibility); strictness is
// reserved for patches, which are operator input.
func DecodeConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
