package feed

import "strings"

// Filter narrows a notification listing. Every clause is optional; an
// absent/empty clause never rejects. Clauses are ANDed, keywords are ORed
// within their clause.
type Filter struct {
	Sources    []Source `json:"sources,omitempty"`
	Types      []Type   `json:"types,omitempty"`
	UnreadOnly bool     `json:"unreadOnly,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// Matches reports whether n passes every configured clause.
func (f Filter) Matches(n Notification) bool {
	if len(f.Sources) > 0 && !containsSource(f.Sources, n.Source) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, n.Type) {
		return false
	}
	if f.UnreadOnly && n.Read {
		return false
	}
	if len(f.Keywords) > 0 {
		haystack := strings.ToLower(n.Title + " " + n.Body)
		hit := false
		tested := false
		for _, kw := range f.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			tested = true
			if strings.Contains(haystack, kw) {
				hit = true
				break
			}
		}
		if tested && !hit {
			return false
		}
	}
	return true
}

func containsSource(set []Source, v Source) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsType(set []Type, v Type) bool {
	for _, t := range set {
		if t == v {
			return true
		}
	}
	return false
}
