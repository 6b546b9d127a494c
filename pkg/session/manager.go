package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/korjavin/whenwemeet/pkg/candidate"
	"github.com/korjavin/whenwemeet/pkg/clock"
	"github.com/korjavin/whenwemeet/pkg/logger"
)

// DefaultTTL is how long an untouched session survives
const DefaultTTL = 30 * time.Minute

// CommitFunc persists the finished session, typically by creating the poll
type CommitFunc func(ctx context.Context, s Session) error

// Manager owns every in-progress session
type Manager struct {
	sessions map[string]*Session
	mu       sync.Mutex
	clock    clock.Clock
	ttl      time.Duration
	logger   *logger.Logger
}

// New creates a new session manager
func New(clk clock.Clock, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		clock:    clk,
		ttl:      ttl,
		logger:   logger.New("session"),
	}
}

func invalid(op string, s *Session) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, op, s.State)
}

// mutate runs fn on the live session under the lock. fn must leave the
// session untouched when it returns an error
func (m *Manager) mutate(id string, fn func(s *Session) error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if err := fn(s); err != nil {
		return Session{}, err
	}
	s.UpdatedAt = m.clock.Now()
	return s.clone(), nil
}

func (m *Manager) start(s *Session) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = m.clock.Now()
	m.sessions[s.ID] = s
	return s.clone()
}

// Get returns a snapshot copy of a session
func (m *Manager) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s.clone(), nil
}

// Cancel releases a session without side effects
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Rekey moves a session to a new correlation id
func (m *Manager) Rekey(oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[oldID]
	if !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, oldID)
	s.ID = newID
	s.UpdatedAt = m.clock.Now()
	m.sessions[newID] = s
	return nil
}

// Len reports how many sessions are live
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartRanged begins the date-range flow
func (m *Manager) StartRanged(id, owner string, d Draft) Session {
	return m.start(&Session{ID: id, Flow: FlowRanged, State: StateCollectingDates, Owner: owner, Draft: d})
}

// SetDateRange records the range and moves on to collecting times
func (m *Manager) SetDateRange(id string, from, to candidate.Date) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if s.Flow != FlowRanged || (s.State != StateCollectingDates && s.State != StateCollectingTimes) {
			return invalid("SetDateRange", s)
		}
		if from.After(to) {
			return &candidate.InvalidInputError{
				Tokens: []string{from.String(), to.String()},
				Reason: "start date is after end date",
			}
		}
		s.From, s.To = from, to
		s.State = StateCollectingTimes
		return nil
	})
}

// SetTimes runs the generator over the stored range. On error the session
// is left as it was
func (m *Manager) SetTimes(id string, tokens []string) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if s.Flow != FlowRanged || (s.State != StateCollectingTimes && s.State != StateCandidatesReady) {
			return invalid("SetTimes", s)
		}
		cs, err := candidate.FromRange(s.From, s.To, tokens)
		if err != nil {
			return err
		}
		s.Times = append([]string(nil), tokens...)
		s.Candidates = cs
		s.State = StateCandidatesReady
		return nil
	})
}

// StartCalendar begins the calendar flow showing the month containing month
func (m *Manager) StartCalendar(id, owner string, d Draft, month candidate.Date) Session {
	return m.start(&Session{
		ID:    id,
		Flow:  FlowCalendar,
		State: StateBrowsingCalendar,
		Owner: owner,
		Draft: d,
		Month: firstOfMonth(month),
		Dates: make(map[candidate.Date]bool),
		Slots: make(map[candidate.Slot]bool),
	})
}

func calendarBrowsing(op string, s *Session) error {
	if s.Flow != FlowCalendar || s.State != StateBrowsingCalendar {
		return invalid(op, s)
	}
	return nil
}

// ToggleDate flips the membership of date in the selection
func (m *Manager) ToggleDate(id string, date candidate.Date) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if err := calendarBrowsing("ToggleDate", s); err != nil {
			return err
		}
		if s.Dates[date] {
			delete(s.Dates, date)
		} else {
			s.Dates[date] = true
		}
		return nil
	})
}

// ChangeMonth moves the calendar cursor; the selection is kept
func (m *Manager) ChangeMonth(id string, month candidate.Date) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if err := calendarBrowsing("ChangeMonth", s); err != nil {
			return err
		}
		s.Month = firstOfMonth(month)
		s.Page = 0
		return nil
	})
}

// ChangePage moves the date page cursor; the selection is kept
func (m *Manager) ChangePage(id string, page int) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if err := calendarBrowsing("ChangePage", s); err != nil {
			return err
		}
		if page < 0 {
			page = 0
		}
		s.Page = page
		return nil
	})
}

// AddCandidates closes date selection and opens slot selection
func (m *Manager) AddCandidates(id string) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if err := calendarBrowsing("AddCandidates", s); err != nil {
			return err
		}
		if len(s.Dates) == 0 {
			return fmt.Errorf("%w: select at least one date", ErrIncompleteSelection)
		}
		s.State = StateCollectingSlots
		return nil
	})
}

// ToggleSlot flips the membership of slot in the selection
func (m *Manager) ToggleSlot(id string, slot candidate.Slot) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if s.Flow != FlowCalendar || s.State != StateCollectingSlots {
			return invalid("ToggleSlot", s)
		}
		parsed, ok := candidate.ParseSlot(string(slot))
		if !ok {
			return &candidate.InvalidInputError{Tokens: []string{string(slot)}, Reason: "unknown time slot"}
		}
		slot = parsed
		if s.Slots[slot] {
			delete(s.Slots, slot)
		} else {
			s.Slots[slot] = true
		}
		return nil
	})
}

// FinishSlots generates candidates from the selected dates and slots
func (m *Manager) FinishSlots(id string) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if s.Flow != FlowCalendar || s.State != StateCollectingSlots {
			return invalid("FinishSlots", s)
		}
		if len(s.Slots) == 0 {
			return fmt.Errorf("%w: select at least one time slot", ErrIncompleteSelection)
		}
		cs, err := candidate.FromCalendar(s.SelectedDates(), s.SelectedSlots())
		if err != nil {
			return err
		}
		s.Candidates = cs
		s.State = StateCandidatesReady
		return nil
	})
}

// Commit hands a ready session to fn and releases it when fn succeeds. The
// lock is not held while fn runs; per-id calls are serialized by the caller
func (m *Manager) Commit(ctx context.Context, id string, fn CommitFunc) error {
	snap, err := m.Get(id)
	if err != nil {
		return err
	}
	if snap.State != StateCandidatesReady || len(snap.Candidates) == 0 {
		return fmt.Errorf("%w: no candidates to commit", ErrIncompleteSelection)
	}
	if err := fn(ctx, snap); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.State = StateCommitted
		delete(m.sessions, id)
	}
	return nil
}

// StartRemind begins a remind or autoremind flow at poll selection
func (m *Manager) StartRemind(id, owner string, flow Flow) (Session, error) {
	if flow != FlowRemind && flow != FlowAutoRemind {
		return Session{}, fmt.Errorf("%w: %s is not a reminder flow", ErrInvalidTransition, flow)
	}
	return m.start(&Session{ID: id, Flow: flow, State: StatePickPoll, Owner: owner}), nil
}

// SelectPoll records the poll of a reminder flow
func (m *Manager) SelectPoll(id string, pollID int64) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if s.State != StatePickPoll {
			return invalid("SelectPoll", s)
		}
		s.PollID = pollID
		if s.Flow == FlowRemind {
			s.State = StatePickOption
		} else {
			s.State = StateAwaitInput
		}
		return nil
	})
}

// SelectOption records the option whose voters an immediate reminder targets
func (m *Manager) SelectOption(id string, index int) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if s.Flow != FlowRemind || s.State != StatePickOption {
			return invalid("SelectOption", s)
		}
		s.OptionIndex = index
		s.State = StateAwaitInput
		return nil
	})
}

// StartBallot opens a pending multi-selection for one voter on one poll
func (m *Manager) StartBallot(id, voter string, pollID int64, current []int) Session {
	ballot := make(map[int]bool, len(current))
	for _, i := range current {
		ballot[i] = true
	}
	return m.start(&Session{ID: id, Flow: FlowBallot, State: StateBallot, Owner: voter, PollID: pollID, Ballot: ballot})
}

// ToggleBallot flips one option in the pending selection
func (m *Manager) ToggleBallot(id string, index int) (Session, error) {
	return m.mutate(id, func(s *Session) error {
		if s.Flow != FlowBallot {
			return invalid("ToggleBallot", s)
		}
		if s.Ballot[index] {
			delete(s.Ballot, index)
		} else {
			s.Ballot[index] = true
		}
		return nil
	})
}

// BallotSelection returns the pending selection of a ballot session
func (m *Manager) BallotSelection(id string) ([]int, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if s.Flow != FlowBallot {
		return nil, invalid("BallotSelection", &s)
	}
	return s.BallotIndices(), nil
}

// Sweep evicts sessions idle for longer than the TTL and reports how many
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if now.Sub(s.UpdatedAt) > m.ttl {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// StartJanitor sweeps idle sessions every interval until ctx is done
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := m.Sweep(m.clock.Now()); n > 0 {
					m.logger.Info("Evicted %d idle sessions", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	m.logger.Info("Started session janitor with interval %v, ttl %v", interval, m.ttl)
}
