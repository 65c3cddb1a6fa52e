package review

import (
	"context"
	"fmt"

	"github.com/bskygeo/listkeeper/models"
)

type Action int

const (
	ActionSkip Action = iota
	ActionApprove
	ActionReject
	ActionEdit
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionApprove:
		return "approve"
	case ActionReject:
		return "reject"
	case ActionSkip:
		return "skip"
	case ActionEdit:
		return "edit"
	case ActionQuit:
		return "quit"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is one operator answer for the candidate under review. Only
// edits carry a payload: the replacement category list.
type Decision struct {
	Action     Action
	Categories []string
}

func Approve() Decision { return Decision{Action: ActionApprove} }
func Reject() Decision  { return Decision{Action: ActionReject} }
func Skip() Decision    { return Decision{Action: ActionSkip} }
func Quit() Decision    { return Decision{Action: ActionQuit} }

func Edit(categories ...string) Decision {
	return Decision{Action: ActionEdit, Categories: categories}
}

// Item is what a decider is shown.
type Item struct {
	DID       string
	Candidate *models.Candidate
	Index     int
	Total     int
}

// Decider supplies decisions, from a person, a script or a heuristic. After
// an edit the same item is presented again.
type Decider interface {
	Decide(ctx context.Context, item Item) (Decision, error)
}

// Outcome is what happened to an item after a decision was applied.
type Outcome struct {
	Action Action
	Err    error
}

// Reporter is implemented by deciders that want to show the operator the
// outcome of each decision.
type Reporter interface {
	Report(item Item, outcome Outcome)
}

// ScriptedDecider replays a fixed list of decisions and quits when it runs
// out.
type ScriptedDecider struct {
	Decisions []Decision

	Seen     []Item
	Outcomes []Outcome
}

func (s *ScriptedDecider) Decide(ctx context.Context, item Item) (Decision, error) {
	s.Seen = append(s.Seen, item)
	if len(s.Seen) > len(s.Decisions) {
		return Quit(), nil
	}
	return s.Decisions[len(s.Seen)-1], nil
}

func (s *ScriptedDecider) Report(item Item, outcome Outcome) {
	s.Outcomes = append(s.Outcomes, outcome)
}

// ThresholdDecider approves candidates at or above ApproveAt, rejects those
// below RejectBelow and skips the rest for a human to look at.
type ThresholdDecider struct {
	ApproveAt   float64
	RejectBelow float64
}

func (t ThresholdDecider) Decide(ctx context.Context, item Item) (Decision, error) {
	c := item.Candidate.Confidence
	switch {
	case c >= t.ApproveAt:
		return Approve(), nil
	case c < t.RejectBelow:
		return Reject(), nil
	default:
		return Skip(), nil
	}
}
