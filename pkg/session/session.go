package session

import (
	"errors"
	"sort"
	"time"

	"github.com/korjavin/whenwemeet/pkg/candidate"
)

var (
	// ErrSessionNotFound is returned for unknown or evicted correlation ids
	ErrSessionNotFound = errors.New("session not found")
	// ErrIncompleteSelection is returned when a step needs selections that are missing
	ErrIncompleteSelection = errors.New("incomplete selection")
	// ErrInvalidTransition is returned when an operation does not apply to the current state
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotOwner is returned when someone other than the session owner acts on it
	ErrNotOwner = errors.New("session belongs to another user")
)

// Flow identifies which interaction a session belongs to
type Flow string

const (
	FlowRanged     Flow = "ranged"
	FlowCalendar   Flow = "calendar"
	FlowRemind     Flow = "remind"
	FlowAutoRemind Flow = "autoremind"
	FlowBallot     Flow = "ballot"
)

// State represents the step a session is waiting on
type State string

const (
	StateCollectingDates  State = "collecting_dates"
	StateCollectingTimes  State = "collecting_times"
	StateBrowsingCalendar State = "browsing_calendar"
	StateCollectingSlots  State = "collecting_slots"
	StateCandidatesReady  State = "candidates_ready"
	StateCommitted        State = "committed"

	StatePickPoll   State = "pick_poll"
	StatePickOption State = "pick_option"
	StateAwaitInput State = "await_input"

	StateBallot State = "ballot"
)

// Draft is the poll metadata collected before any candidates exist
type Draft struct {
	Title       string
	Description string
	ExpireHours int
}

// Session is one in-progress interaction
type Session struct {
	ID    string
	Flow  Flow
	State State
	Owner string
	Draft Draft

	// ranged flow
	From  candidate.Date
	To    candidate.Date
	Times []string

	// calendar flow
	Month candidate.Date // first day of the displayed month
	Page  int
	Dates map[candidate.Date]bool
	Slots map[candidate.Slot]bool

	Candidates []candidate.Candidate

	// remind, autoremind and ballot flows
	PollID      int64
	OptionIndex int
	Ballot      map[int]bool

	UpdatedAt time.Time
}

// SelectedDates returns the chosen calendar dates in order
func (s *Session) SelectedDates() []candidate.Date {
	out := make([]candidate.Date, 0, len(s.Dates))
	for d, ok := range s.Dates {
		if ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// SelectedSlots returns the chosen slots in time-of-day order
func (s *Session) SelectedSlots() []candidate.Slot {
	var out []candidate.Slot
	for _, slot := range candidate.AllSlots {
		if s.Slots[slot] {
			out = append(out, slot)
		}
	}
	return out
}

// BallotIndices returns the pending ballot selection in index order
func (s *Session) BallotIndices() []int {
	out := make([]int, 0, len(s.Ballot))
	for i, ok := range s.Ballot {
		if ok {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

func (s *Session) clone() Session {
	c := *s
	c.Times = append([]string(nil), s.Times...)
	c.Candidates = append([]candidate.Candidate(nil), s.Candidates...)
	if s.Dates != nil {
		c.Dates = make(map[candidate.Date]bool, len(s.Dates))
		for k, v := range s.Dates {
			c.Dates[k] = v
		}
	}
	if s.Slots != nil {
		c.Slots = make(map[candidate.Slot]bool, len(s.Slots))
		for k, v := range s.Slots {
			c.Slots[k] = v
		}
	}
	if s.Ballot != nil {
		c.Ballot = make(map[int]bool, len(s.Ballot))
		for k, v := range s.Ballot {
			c.Ballot[k] = v
		}
	}
	return c
}

func firstOfMonth(d candidate.Date) candidate.Date {
	return candidate.Date{Year: d.Year, Month: d.Month, Day: 1}
}
