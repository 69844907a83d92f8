package feed

import (
	"testing"
	"time"
)

func sample() Notification {
	return Notification{
		ID:        "slack:C1:100.0",
		Source:    SourceSlack,
		Type:      TypeChannel,
		Title:     "#general",
		Body:      "deploy finished without errors",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFilterMatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		filter Filter
		mutate func(*Notification)
		want   bool
	}{
		{name: "empty filter matches everything", filter: Filter{}, want: true},
		{name: "source match", filter: Filter{Sources: []Source{SourceSlack}}, want: true},
		{name: "source mismatch", filter: Filter{Sources: []Source{SourceGitHub}}, want: false},
		{name: "type match", filter: Filter{Types: []Type{TypeChannel, TypeMention}}, want: true},
		{name: "type mismatch", filter: Filter{Types: []Type{TypeDM}}, want: false},
		{
			name:   "unread only rejects read",
			filter: Filter{UnreadOnly: true},
			mutate: func(n *Notification) { n.Read = true },
			want:   false,
		},
		{name: "unread only passes unread", filter: Filter{UnreadOnly: true}, want: true},
		{name: "keyword in body", filter: Filter{Keywords: []string{"DEPLOY"}}, want: true},
		{name: "keyword in title", filter: Filter{Keywords: []string{"general"}}, want: true},
		{name: "keyword miss", filter: Filter{Keywords: []string{"rollback"}}, want: false},
		{name: "keyword any-of", filter: Filter{Keywords: []string{"rollback", "finished"}}, want: true},
		{name: "blank keywords ignored", filter: Filter{Keywords: []string{"", "  "}}, want: true},
		{
			name:   "clauses are ANDed",
			filter: Filter{Sources: []Source{SourceSlack}, Keywords: []string{"rollback"}},
			want:   false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			n := sample()
			if tt.mutate != nil {
				tt.mutate(&n)
			}
			if got := tt.filter.Matches(n); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}
