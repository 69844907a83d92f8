package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// ConfigPatch is a partial update to Config. Nil pointers leave the
// corresponding field untouched; each section merges field-by-field over the
// existing value (slices replace wholesale).
type ConfigPatch struct {
	Enabled *bool        `json:"enabled,omitempty"`
	Slack   *SlackPatch  `json:"slack,omitempty"`
	GitHub  *GitHubPatch `json:"github,omitempty"`
}

type SlackPatch struct {
	Enabled             *bool     `json:"enabled,omitempty"`
	PollIntervalSeconds *int      `json:"pollIntervalSeconds,omitempty"`
	Channels            *[]string `json:"channels,omitempty"`
	Keywords            *[]string `json:"keywords,omitempty"`
	WatchMentions       *bool     `json:"watchMentions,omitempty"`
	WatchDMs            *bool     `json:"watchDms,omitempty"`
	WatchThreads        *bool     `json:"watchThreads,omitempty"`
}

type GitHubPatch struct {
	Enabled             *bool     `json:"enabled,omitempty"`
	PollIntervalSeconds *int      `json:"pollIntervalSeconds,omitempty"`
	Repos               *[]string `json:"repos,omitempty"`
}

// DecodePatch parses a patch document strictly: unknown fields anywhere in
// the payload are an error, as is trailing garbage. Patches are operator
// input, and a typo silently dropped is worse than a rejection.
func DecodePatch(data []byte) (ConfigPatch, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p ConfigPatch
	if err := dec.Decode(&p); err != nil {
		return ConfigPatch{}, fmt.Errorf("decode config patch: %w", err)
	}
	if dec.More() {
		return ConfigPatch{}, fmt.Errorf("decode config patch: trailing data after document")
	}
	// Guard against a second, non-JSON trailer too.
	if _, err := dec.Token(); err != io.EOF {
		return ConfigPatch{}, fmt.Errorf("decode config patch: trailing data after document")
	}
	return p, nil
}

// Apply returns cfg with the patch merged in. The receiver is not mutated.
func (p ConfigPatch) Apply(cfg Config) Config {
	out := cfg
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.Slack != nil {
		out.Slack = p.Slack.apply(cfg.Slack)
	}
	if p.GitHub != nil {
		out.GitHub = p.GitHub.apply(cfg.GitHub)
	}
	return out
}

// IsZero reports whether the patch changes nothing.
func (p ConfigPatch) IsZero() bool {
	return p.Enabled == nil && p.Slack == nil && p.GitHub == nil
}

func (p *SlackPatch) apply(cfg SlackConfig) SlackConfig {
	out := cfg
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.PollIntervalSeconds != nil {
		out.PollIntervalSeconds = *p.PollIntervalSeconds
	}
	if p.Channels != nil {
		out.Channels = append([]string(nil), (*p.Channels)...)
	}
	if p.Keywords != nil {
		out.Keywords = append([]string(nil), (*p.Keywords)...)
	}
	if p.WatchMentions != nil {
		out.WatchMentions = *p.WatchMentions
	}
	if p.WatchDMs != nil {
		out.WatchDMs = *p.WatchDMs
	}
	if p.WatchThreads != nil {
		out.WatchThreads = *p.WatchThreads
	}
	return out
}

func (p *GitHubPatch) apply(cfg GitHubConfig) GitHubConfig {
	out := cfg
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.PollIntervalSeconds != nil {
		out.PollIntervalSeconds = *p.PollIntervalSeconds
	}
	if p.Repos != nil {
		out.Repos = append([]string(nil), (*p.Repos)...)
	}
	return out
}
