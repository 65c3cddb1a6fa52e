package models

import (
	"time"
)

const DateLayout = "2006-01-02"

// Today is the UTC calendar date used for added/removed/discovered stamps.
func Today(now time.Time) string {
	return now.UTC().Format(DateLayout)
}

// Provenance tags written to Member.Source by the member maintenance paths.
const (
	SourceInitBootstrap = "init_bootstrap"
	SourceFollowSync    = "follow_sync"
	SourceManual        = "manual"
	SourceReview        = "review"
	SourcePromotion     = "promotion"
)

type Member struct {
	Handle      string   `json:"handle"`
	DisplayName string   `json:"display_name"`
	Bio         *string  `json:"bio"`
	Categories  []string `json:"categories"`
	EntityType  string   `json:"entity_type"`
	Institution string   `json:"institution"`
	AddedDate   string   `json:"added_date"`
	Source      string   `json:"source"`
	Confidence  float64  `json:"confidence"`
	ListItemURI string   `json:"listitem_uri"`
	Notes       string   `json:"notes"`

	Removed     bool   `json:"removed,omitempty"`
	RemovedDate string `json:"removed_date,omitempty"`

	IsBot              bool    `json:"is_bot,omitempty"`
	ClassifyConfidence float64 `json:"classify_confidence,omitempty"`
}

// Members is the members record set, keyed by DID.
type Members map[string]*Member

func (m *Member) Active() bool {
	return m != nil && !m.Removed
}

func (m *Member) BioText() string {
	if m.Bio == nil {
		return ""
	}
	return *m.Bio
}

// MarkRemoved soft deletes the member. The record stays so history is kept.
func (m *Member) MarkRemoved(now time.Time) {
	m.Removed = true
	m.RemovedDate = Today(now)
	m.ListItemURI = ""
}

// Active returns the members that are currently on the list.
func (ms Members) Active() Members {
	out := make(Members, len(ms))
	for did, m := range ms {
		if m.Active() {
			out[did] = m
		}
	}
	return out
}

// Put stores a member, overwriting a previously removed record for the
// same DID.
func (ms Members) Put(did string, m *Member) {
	ms[did] = m
}

func StringPtr(s string) *string {
	return &s
}
