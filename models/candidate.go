package models

import (
	"errors"
	"fmt"
	"time"
)

type CandidateStatus string

const (
	StatusPending  CandidateStatus = "pending"
	StatusApproved CandidateStatus = "approved"
	StatusRejected CandidateStatus = "rejected"
	StatusAdded    CandidateStatus = "added"
)

type CandidateSource string

const (
	CandidateNetworkCrawl CandidateSource = "network_crawl"
	CandidateDMRequest    CandidateSource = "dm_request"
	CandidateManualFetch  CandidateSource = "manual_fetch"
)

var ErrIllegalTransition = errors.New("illegal candidate status transition")

// CanTransition reports whether a candidate may move from s to next.
// Status only ever moves forward: pending to approved or rejected, and
// approved to added.
func (s CandidateStatus) CanTransition(next CandidateStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusAdded
	default:
		return false
	}
}

func (s CandidateStatus) Terminal() bool {
	return s == StatusRejected || s == StatusAdded
}

type Candidate struct {
	Handle      string   `json:"handle"`
	DisplayName string   `json:"display_name"`
	Bio         string   `json:"bio"`
	Categories  []string `json:"categories"`
	EntityType  string   `json:"entity_type"`
	Institution string   `json:"institution"`
	Confidence  float64  `json:"confidence"`

	Source            CandidateSource `json:"source"`
	Status            CandidateStatus `json:"status"`
	MemberFollowCount int             `json:"member_follow_count,omitempty"`
	RecentPosts       []string        `json:"recent_posts,omitempty"`
	DiscoveredDate    string          `json:"discovered_date"`
	ReviewedDate      string          `json:"reviewed_date,omitempty"`

	IsRelevant         bool   `json:"is_relevant"`
	Reasoning          string `json:"reasoning,omitempty"`
	ActivityAssessment string `json:"activity_assessment,omitempty"`
	DMSummary          string `json:"dm_summary,omitempty"`
}

// Candidates is the candidates record set, keyed by DID.
type Candidates map[string]*Candidate

// Transition moves the candidate to next, refusing anything that would move
// it backwards.
func (c *Candidate) Transition(next CandidateStatus, now time.Time) error {
	if !c.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, next)
	}
	c.Status = next
	c.ReviewedDate = Today(now)
	return nil
}

// ApplyVerdict copies a relevance verdict into the candidate's descriptive
// fields.
func (c *Candidate) ApplyVerdict(v *Verdict) {
	if v == nil {
		return
	}
	c.IsRelevant = v.IsRelevant
	c.Confidence = v.Confidence
	c.EntityType = v.EntityType
	c.Categories = v.Categories
	c.Institution = v.InstitutionAffiliation
	c.Reasoning = v.Reasoning
	c.ActivityAssessment = v.ActivityAssessment
}

// ToMember builds the member record created when a candidate is accepted.
func (c *Candidate) ToMember(listItemURI string, now time.Time) *Member {
	source := string(c.Source)
	if source == "" {
		source = SourceReview
	}
	return &Member{
		Handle:      c.Handle,
		DisplayName: c.DisplayName,
		Bio:         StringPtr(c.Bio),
		Categories:  append([]string(nil), c.Categories...),
		EntityType:  c.EntityType,
		Institution: c.Institution,
		AddedDate:   Today(now),
		Source:      source,
		Confidence:  c.Confidence,
		ListItemURI: listItemURI,
	}
}

// WithStatus returns the DIDs whose candidates currently have status s.
func (cs Candidates) WithStatus(s CandidateStatus) []string {
	var out []string
	for did, c := range cs {
		if c.Status == s {
			out = append(out, did)
		}
	}
	return out
}

func (cs Candidates) CountByStatus() map[CandidateStatus]int {
	counts := make(map[CandidateStatus]int)
	for _, c := range cs {
		counts[c.Status]++
	}
	return counts
}
