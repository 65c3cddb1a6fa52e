package models

import (
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// Profile is the subset of an account's public profile the curator uses.
type Profile struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"display_name"`
	Description    string `json:"description"`
	Avatar         string `json:"avatar,omitempty"`
	FollowersCount int64  `json:"followers_count"`
	FollowsCount   int64  `json:"follows_count"`
	PostsCount     int64  `json:"posts_count"`
}

// ListItem is one membership entry of the managed list.
type ListItem struct {
	DID         string
	Handle      string
	DisplayName string
	URI         string
}

// ListInfo describes one list owned by the operating account.
type ListInfo struct {
	URI         string
	Name        string
	Description string
	Purpose     string
}

// Message is a single direct message.
type Message struct {
	SenderDID string
	Text      string
	SentAt    string
}

// Conversation is a direct message conversation and its participants.
type Conversation struct {
	ID          string
	Members     []Profile
	LastMessage string
}

func IsDID(s string) bool {
	_, err := syntax.ParseDID(s)
	return err == nil
}

// NormalizeActor strips the decorations people paste around handles, like
// a leading @ or surrounding whitespace.
func NormalizeActor(s string) string {
	s = strings.TrimSpace(s)

	// handles copied from bsky.app come wrapped in \u202a ... \u202c
	s = strings.TrimPrefix(s, "\u202a")
	s = strings.TrimSuffix(s, "\u202c")

	return strings.TrimPrefix(s, "@")
}
