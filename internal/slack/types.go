package slack

// Channel is one conversation visible to the authenticated user. IM channels
// have IsIM set and carry the peer user id instead of a name.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsIM       bool   `json:"is_im"`
	IsMember   bool   `json:"is_member"`
	IsArchived bool   `json:"is_archived"`
	User       string `json:"user"`
}

// Message is one history entry. TS doubles as the message id within its
// channel; ThreadTS is set (and differs from TS) on thread replies.
type Message struct {
	TS       string `json:"ts"`
	Text     string `json:"text"`
	User     string `json:"user"`
	ThreadTS string `json:"thread_ts"`
	Subtype  string `json:"subtype"`
}

// AuthInfo identifies the authenticated workspace. URL is the workspace base
// URL used for building archive deep links.
type AuthInfo struct {
	URL    string `json:"url"`
	Team   string `json:"team"`
	User   string `json:"user"`
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
}

// envelope is the application-level response wrapper every Web API method
// carries, independent of HTTP status.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type listResponse struct {
	envelope
	Channels         []Channel `json:"channels"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

type historyResponse struct {
	envelope
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

type authTestResponse struct {
	envelope
	AuthInfo
}
