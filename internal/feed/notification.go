package feed

import "time"

// Source tags which upstream service a notification or a config section
// belongs to.
type Source string

const (
	SourceSlack  Source = "slack"
	SourceGitHub Source = "github"
)

// Type classifies a notification within its source.
type Type string

const (
	TypeMention     Type = "mention"
	TypeDM          Type = "dm"
	TypeThreadReply Type = "thread_reply"
	TypeChannel     Type = "channel"
)

// Notification is one aggregated feed item.
//
// ID is assigned by the poller that discovered the item or, when the poller
// omits it, by the orchestrator at ingestion time. Once stored it never
// changes.
type Notification struct {
	ID        string            `json:"id"`
	Source    Source            `json:"source"`
	Type      Type              `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	URL       string            `json:"url,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Read      bool              `json:"read"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy, so holders of the copy cannot reach shared
// metadata maps.
func (n Notification) Clone() Notification {
	if n.Metadata != nil {
		meta := make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			meta[k] = v
		}
		n.Metadata = meta
	}
	return n
}
