package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/korjavin/whenwemeet/pkg/candidate"
	"github.com/korjavin/whenwemeet/pkg/clock"
)

var start = time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)

func newManager() (*Manager, *clock.Fake) {
	clk := clock.NewFake(start)
	return New(clk, 30*time.Minute), clk
}

func date(y int, m time.Month, d int) candidate.Date {
	return candidate.Date{Year: y, Month: m, Day: d}
}

func TestRangedFlow(t *testing.T) {
	m, _ := newManager()
	m.StartRanged("1:10", "u1", Draft{Title: "Sync"})

	s, err := m.SetDateRange("1:10", date(2025, 1, 10), date(2025, 1, 11))
	if err != nil {
		t.Fatalf("SetDateRange: %v", err)
	}
	if s.State != StateCollectingTimes {
		t.Fatalf("state = %s", s.State)
	}

	s, err = m.SetTimes("1:10", []string{"0900", "1800"})
	if err != nil {
		t.Fatalf("SetTimes: %v", err)
	}
	if s.State != StateCandidatesReady || len(s.Candidates) != 4 {
		t.Fatalf("state = %s, candidates = %d", s.State, len(s.Candidates))
	}

	var committed Session
	err = m.Commit(context.Background(), "1:10", func(_ context.Context, s Session) error {
		committed = s
		return nil
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if committed.Draft.Title != "Sync" || len(committed.Candidates) != 4 {
		t.Errorf("committed = %+v", committed)
	}
	if _, err := m.Get("1:10"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session survived commit: %v", err)
	}
}

func TestSetTimesErrorLeavesStateUnchanged(t *testing.T) {
	m, _ := newManager()
	m.StartRanged("s", "u1", Draft{Title: "x"})
	if _, err := m.SetDateRange("s", date(2025, 1, 1), date(2025, 1, 10)); err != nil {
		t.Fatal(err)
	}

	_, err := m.SetTimes("s", []string{"0800", "1000", "1200", "1400", "1600", "1800"})
	if !errors.Is(err, candidate.ErrTooManyCandidates) {
		t.Fatalf("err = %v, want ErrTooManyCandidates", err)
	}
	s, err := m.Get("s")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateCollectingTimes || len(s.Candidates) != 0 {
		t.Errorf("session mutated on error: %+v", s)
	}

	_, err = m.SetTimes("s", []string{"25:00", "x"})
	var inv *candidate.InvalidInputError
	if !errors.As(err, &inv) || len(inv.Tokens) != 2 {
		t.Errorf("err = %v, want both tokens reported", err)
	}
}

func TestCommitGuard(t *testing.T) {
	m, _ := newManager()
	m.StartCalendar("c", "u1", Draft{Title: "x"}, date(2025, 1, 20))

	called := false
	err := m.Commit(context.Background(), "c", func(context.Context, Session) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrIncompleteSelection) {
		t.Fatalf("err = %v, want ErrIncompleteSelection", err)
	}
	if called {
		t.Error("commit func ran without candidates")
	}
	s, err := m.Get("c")
	if err != nil || s.State != StateBrowsingCalendar {
		t.Errorf("session after failed commit = %+v, %v", s, err)
	}
}

func TestCommitFailureKeepsSession(t *testing.T) {
	m, _ := newManager()
	m.StartRanged("s", "u1", Draft{Title: "x"})
	m.SetDateRange("s", date(2025, 1, 10), date(2025, 1, 10))
	m.SetTimes("s", []string{"0900"})

	boom := errors.New("store down")
	err := m.Commit(context.Background(), "s", func(context.Context, Session) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	s, err := m.Get("s")
	if err != nil || s.State != StateCandidatesReady {
		t.Errorf("session after failed commit = %+v, %v", s, err)
	}
}

func TestCalendarFlow(t *testing.T) {
	m, _ := newManager()
	m.StartCalendar("c", "u1", Draft{Title: "Dinner"}, date(2025, 1, 8))

	if _, err := m.AddCandidates("c"); !errors.Is(err, ErrIncompleteSelection) {
		t.Fatalf("AddCandidates with no dates err = %v", err)
	}

	m.ToggleDate("c", date(2025, 1, 11))
	m.ToggleDate("c", date(2025, 1, 10))
	if _, err := m.ChangePage("c", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ChangeMonth("c", date(2025, 2, 14)); err != nil {
		t.Fatal(err)
	}
	s, err := m.ToggleDate("c", date(2025, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	if s.Month != date(2025, 2, 1) || s.Page != 0 {
		t.Errorf("cursor = %v page %d", s.Month, s.Page)
	}
	if len(s.SelectedDates()) != 3 {
		t.Fatalf("selection lost across paging: %v", s.SelectedDates())
	}

	if _, err := m.AddCandidates("c"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.FinishSlots("c"); !errors.Is(err, ErrIncompleteSelection) {
		t.Fatalf("FinishSlots with no slots err = %v", err)
	}
	m.ToggleSlot("c", candidate.SlotEvening)
	m.ToggleSlot("c", "Morning")
	s, err = m.FinishSlots("c")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateCandidatesReady || len(s.Candidates) != 6 {
		t.Fatalf("state = %s, candidates = %v", s.State, candidate.Labels(s.Candidates))
	}
	if s.Candidates[0].Label != "01/10 (Fri) Morning" {
		t.Errorf("first candidate = %q", s.Candidates[0].Label)
	}
}

func TestToggleDateIsInvolution(t *testing.T) {
	m, _ := newManager()
	m.StartCalendar("c", "u1", Draft{}, date(2025, 1, 1))
	d := date(2025, 1, 15)

	m.ToggleDate("c", d)
	s, _ := m.ToggleDate("c", d)
	if len(s.Dates) != 0 {
		t.Errorf("dates after double toggle = %v", s.Dates)
	}
}

func TestInvalidTransitions(t *testing.T) {
	m, _ := newManager()
	m.StartRanged("r", "u1", Draft{})
	if _, err := m.ToggleDate("r", date(2025, 1, 1)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ToggleDate on ranged err = %v", err)
	}
	if _, err := m.SetTimes("r", []string{"0900"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetTimes before range err = %v", err)
	}
	if _, err := m.SetDateRange("r", date(2025, 1, 2), date(2025, 1, 1)); err == nil {
		t.Error("reversed range accepted")
	}
}

func TestNotFound(t *testing.T) {
	m, _ := newManager()
	if _, err := m.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get err = %v", err)
	}
	if _, err := m.ToggleDate("nope", date(2025, 1, 1)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ToggleDate err = %v", err)
	}
	err := m.Commit(context.Background(), "nope", func(context.Context, Session) error { return nil })
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Commit err = %v", err)
	}
	if err := m.Rekey("nope", "other"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Rekey err = %v", err)
	}
}

func TestCancelAndRekey(t *testing.T) {
	m, _ := newManager()
	m.StartRanged("a", "u1", Draft{Title: "x"})
	if err := m.Rekey("a", "b"); err != nil {
		t.Fatal(err)
	}
	s, err := m.Get("b")
	if err != nil || s.ID != "b" {
		t.Fatalf("after rekey = %+v, %v", s, err)
	}
	m.Cancel("b")
	if m.Len() != 0 {
		t.Errorf("Len = %d after cancel", m.Len())
	}
}

func TestRemindFlows(t *testing.T) {
	m, _ := newManager()

	if _, err := m.StartRemind("r", "u1", FlowRemind); err != nil {
		t.Fatal(err)
	}
	s, err := m.SelectPoll("r", 7)
	if err != nil || s.State != StatePickOption {
		t.Fatalf("SelectPoll = %+v, %v", s, err)
	}
	s, err = m.SelectOption("r", 2)
	if err != nil || s.State != StateAwaitInput || s.OptionIndex != 2 || s.PollID != 7 {
		t.Fatalf("SelectOption = %+v, %v", s, err)
	}

	m.StartRemind("a", "u1", FlowAutoRemind)
	s, err = m.SelectPoll("a", 9)
	if err != nil || s.State != StateAwaitInput {
		t.Fatalf("autoremind SelectPoll = %+v, %v", s, err)
	}
	if _, err := m.SelectOption("a", 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SelectOption on autoremind err = %v", err)
	}
	if _, err := m.StartRemind("x", "u1", FlowBallot); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("StartRemind with ballot flow err = %v", err)
	}
}

func TestBallot(t *testing.T) {
	m, _ := newManager()
	m.StartBallot("1:5:u1", "u1", 3, []int{0, 2})
	m.ToggleBallot("1:5:u1", 2)
	m.ToggleBallot("1:5:u1", 4)

	sel, err := m.BallotSelection("1:5:u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sel) != 2 || sel[0] != 0 || sel[1] != 4 {
		t.Errorf("selection = %v, want [0 4]", sel)
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	m, clk := newManager()
	m.StartRanged("old", "u1", Draft{})
	clk.Advance(20 * time.Minute)
	m.StartRanged("fresh", "u1", Draft{})
	clk.Advance(15 * time.Minute)

	if n := m.Sweep(clk.Now()); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if _, err := m.Get("old"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("idle session survived sweep")
	}
	if _, err := m.Get("fresh"); err != nil {
		t.Errorf("fresh session evicted: %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m, _ := newManager()
	m.StartCalendar("c", "u1", Draft{}, date(2025, 1, 1))
	m.ToggleDate("c", date(2025, 1, 2))

	s, _ := m.Get("c")
	delete(s.Dates, date(2025, 1, 2))

	again, _ := m.Get("c")
	if len(again.Dates) != 1 {
		t.Error("mutating a snapshot changed the live session")
	}
}
