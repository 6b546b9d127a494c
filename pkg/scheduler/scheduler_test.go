package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/korjavin/whenwemeet/pkg/clock"
	"github.com/korjavin/whenwemeet/pkg/models"
	"github.com/korjavin/whenwemeet/pkg/storage"
)

var start = time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC)

type sent struct {
	channel string
	text    string
}

type fakeNotifier struct {
	mu          sync.Mutex
	sent        []sent
	unreachable map[string]bool
	checkErr    error
	fail        error
}

func (n *fakeNotifier) ChannelAvailable(_ context.Context, channelID string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.checkErr != nil {
		return false, n.checkErr
	}
	return !n.unreachable[channelID], nil
}

func (n *fakeNotifier) Notify(_ context.Context, channelID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, sent{channel: channelID, text: text})
	return nil
}

func (n *fakeNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.text
	}
	return out
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBadgerInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// pollWithVoters creates a poll and casts one vote per voter on option 0
func pollWithVoters(t *testing.T, store storage.Store, voters ...string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := store.CreatePoll(ctx, &models.Poll{
		ChannelID: "chat",
		GuildID:   "chat",
		CreatorID: "owner",
		Title:     "Sync",
		Kind:      models.KindRanged,
		Options:   []string{"A", "B"},
		CreatedAt: start,
		Active:    true,
	})
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	for _, v := range voters {
		if _, err := store.ToggleVote(ctx, id, v, 0, start); err != nil {
			t.Fatalf("ToggleVote: %v", err)
		}
	}
	return id
}

func insertReminder(t *testing.T, store storage.Store, pollID int64, msg string, fireAt time.Time) int64 {
	t.Helper()
	id, err := store.CreateReminder(context.Background(), &models.Reminder{
		GuildID:   "chat",
		ChannelID: "chat",
		PollID:    pollID,
		Message:   msg,
		FireAt:    fireAt,
		CreatedBy: "owner",
		CreatedAt: start,
	})
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	return id
}

func textOnly(r *models.Reminder, _ *models.Poll, _ []string) string {
	return r.Message
}

// run starts the dispatcher and stops it when the test ends
func run(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		s.Stop()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statusOf(t *testing.T, store storage.Store, id int64) models.ReminderStatus {
	t.Helper()
	r, err := store.GetReminder(context.Background(), id)
	if err != nil {
		t.Fatalf("GetReminder(%d): %v", id, err)
	}
	return r.Status
}

func TestOverdueReminderFiresOnInit(t *testing.T) {
	store := newStore(t)
	pollID := pollWithVoters(t, store, "u1", "u2")
	id := insertReminder(t, store, pollID, "standup", start.Add(-time.Minute))

	n := &fakeNotifier{}
	s := New(store, n, clock.NewFake(start), nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	run(t, s)

	waitFor(t, "reminder to be sent", func() bool { return statusOf(t, store, id) == models.ReminderSent })
	texts := n.texts()
	if len(texts) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(texts))
	}
	want := "u1 u2\n2025/01/09 09:59\nstandup"
	if texts[0] != want {
		t.Errorf("text = %q, want %q", texts[0], want)
	}
	r, _ := store.GetReminder(context.Background(), id)
	if r.SentAt == nil {
		t.Error("SentAt not recorded")
	}
}

func TestRestartDeliversInFireOrder(t *testing.T) {
	store := newStore(t)
	pollID := pollWithVoters(t, store, "u1")
	insertReminder(t, store, pollID, "third", start.Add(2*time.Hour))
	insertReminder(t, store, pollID, "first", start.Add(time.Hour))
	insertReminder(t, store, pollID, "second", start.Add(time.Hour))

	n := &fakeNotifier{}
	s := New(store, n, clock.NewFake(start.Add(3*time.Hour)), textOnly)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	run(t, s)

	waitFor(t, "three notifications", func() bool { return len(n.texts()) == 3 })
	got := n.texts()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	store := newStore(t)
	pollID := pollWithVoters(t, store, "u1")
	clk := clock.NewFake(start)
	n := &fakeNotifier{}
	s := New(store, n, clk, textOnly)
	run(t, s)

	ctx := context.Background()
	for _, nr := range []NewReminder{
		{ChannelID: "chat", PollID: pollID, Message: "late", FireAt: start.Add(30 * time.Minute)},
		{ChannelID: "chat", PollID: pollID, Message: "early", FireAt: start.Add(10 * time.Minute)},
	} {
		if _, err := s.Schedule(ctx, nr); err != nil {
			t.Fatal(err)
		}
	}
	if s.Armed() != 2 {
		t.Fatalf("Armed = %d, want 2", s.Armed())
	}

	clk.Advance(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if len(n.texts()) != 0 {
		t.Fatalf("reminder fired early: %v", n.texts())
	}

	clk.Advance(time.Hour)
	waitFor(t, "two notifications", func() bool { return len(n.texts()) == 2 })
	if got := n.texts(); got[0] != "early" || got[1] != "late" {
		t.Errorf("order = %v", got)
	}
	if s.Armed() != 0 {
		t.Errorf("Armed after delivery = %d", s.Armed())
	}
}

func TestReminderDeliveredOnce(t *testing.T) {
	store := newStore(t)
	pollID := pollWithVoters(t, store, "u1")
	id := insertReminder(t, store, pollID, "once", start.Add(-time.Minute))

	n := &fakeNotifier{}
	s := New(store, n, clock.NewFake(start), textOnly)
	// loading twice queues the same row twice
	s.Init(context.Background())
	s.Init(context.Background())
	run(t, s)

	waitFor(t, "reminder to be sent", func() bool { return statusOf(t, store, id) == models.ReminderSent })
	time.Sleep(20 * time.Millisecond)
	if got := len(n.texts()); got != 1 {
		t.Errorf("sent %d notifications, want 1", got)
	}

	// a later start finds nothing pending
	again := New(store, n, clock.NewFake(start), textOnly)
	again.Init(context.Background())
	if again.Armed() != 0 {
		t.Errorf("restart armed %d reminders", again.Armed())
	}
}

func TestSkipsWithoutDelivering(t *testing.T) {
	tests := []struct {
		name        string
		voters      []string
		missingPoll bool
		unreachable bool
	}{
		{name: "poll deleted", voters: []string{"u1"}, missingPoll: true},
		{name: "channel gone", voters: []string{"u1"}, unreachable: true},
		{name: "no voters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			pollID := pollWithVoters(t, store, tt.voters...)
			if tt.missingPoll {
				pollID += 100
			}
			id := insertReminder(t, store, pollID, "", start.Add(-time.Minute))

			n := &fakeNotifier{unreachable: map[string]bool{}}
			if tt.unreachable {
				n.unreachable["chat"] = true
			}
			s := New(store, n, clock.NewFake(start), nil)
			s.Init(context.Background())
			run(t, s)

			waitFor(t, "reminder to be skipped", func() bool { return statusOf(t, store, id) == models.ReminderSkipped })
			if len(n.texts()) != 0 {
				t.Errorf("skipped reminder was delivered: %v", n.texts())
			}
		})
	}
}

func TestFailedDeliveryStaysPending(t *testing.T) {
	store := newStore(t)
	pollID := pollWithVoters(t, store, "u1")
	id := insertReminder(t, store, pollID, "retry me", start.Add(-time.Minute))

	broken := &fakeNotifier{fail: errors.New("network down")}
	s := New(store, broken, clock.NewFake(start), textOnly)
	s.Init(context.Background())
	run(t, s)
	waitFor(t, "queue to drain", func() bool { return s.Armed() == 0 })
	time.Sleep(20 * time.Millisecond)
	if got := statusOf(t, store, id); got != models.ReminderPending {
		t.Fatalf("status after failure = %s, want pending", got)
	}

	working := &fakeNotifier{}
	restarted := New(store, working, clock.NewFake(start), textOnly)
	restarted.Init(context.Background())
	run(t, restarted)
	waitFor(t, "retry to be sent", func() bool { return statusOf(t, store, id) == models.ReminderSent })
	if got := working.texts(); len(got) != 1 || got[0] != "retry me" {
		t.Errorf("retry sent %v", got)
	}
}

func TestCancel(t *testing.T) {
	store := newStore(t)
	pollID := pollWithVoters(t, store, "u1")
	other := pollWithVoters(t, store, "u2")
	clk := clock.NewFake(start)
	n := &fakeNotifier{}
	s := New(store, n, clk, textOnly)
	run(t, s)

	ctx := context.Background()
	id, _ := s.Schedule(ctx, NewReminder{ChannelID: "chat", PollID: pollID, Message: "a", FireAt: start.Add(time.Hour)})
	s.Schedule(ctx, NewReminder{ChannelID: "chat", PollID: pollID, Message: "b", FireAt: start.Add(time.Hour)})
	s.Schedule(ctx, NewReminder{ChannelID: "chat", PollID: other, Message: "c", FireAt: start.Add(time.Hour)})

	if !s.Cancel(id) {
		t.Error("Cancel of armed reminder = false")
	}
	if s.Cancel(id) {
		t.Error("second Cancel = true")
	}
	if got := s.CancelPoll(pollID); got != 1 {
		t.Errorf("CancelPoll = %d, want 1", got)
	}

	clk.Advance(2 * time.Hour)
	waitFor(t, "remaining reminder", func() bool { return len(n.texts()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := n.texts(); len(got) != 1 || got[0] != "c" {
		t.Errorf("delivered %v, want [c]", got)
	}
	if got := statusOf(t, store, id); got != models.ReminderPending {
		t.Errorf("cancelled row status = %s, want pending", got)
	}
}

func TestChannelCheckErrorStaysPending(t *testing.T) {
	store := newStore(t)
	pollID := pollWithVoters(t, store, "u1")
	id := insertReminder(t, store, pollID, "later", start.Add(-time.Minute))

	flaky := &fakeNotifier{checkErr: errors.New("connection reset")}
	s := New(store, flaky, clock.NewFake(start), textOnly)
	s.Init(context.Background())
	run(t, s)
	waitFor(t, "queue to drain", func() bool { return s.Armed() == 0 })
	time.Sleep(20 * time.Millisecond)
	if got := statusOf(t, store, id); got != models.ReminderPending {
		t.Fatalf("status after failed check = %s, want pending", got)
	}

	working := &fakeNotifier{}
	restarted := New(store, working, clock.NewFake(start), textOnly)
	restarted.Init(context.Background())
	run(t, restarted)
	waitFor(t, "retry to be sent", func() bool { return statusOf(t, store, id) == models.ReminderSent })
	if got := working.texts(); len(got) != 1 || got[0] != "later" {
		t.Errorf("retry sent %v", got)
	}
}

func TestCancelQueuedReminder(t *testing.T) {
	store := newStore(t)
	pollID := pollWithVoters(t, store, "u1")
	overdue := insertReminder(t, store, pollID, "overdue", start.Add(-time.Minute))

	clk := clock.NewFake(start)
	n := &fakeNotifier{}
	s := New(store, n, clk, textOnly)
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	fired, err := s.Schedule(ctx, NewReminder{ChannelID: "chat", PollID: pollID, Message: "fired", FireAt: start.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	// the timer fires while nothing is dispatching
	clk.Advance(2 * time.Minute)

	if !s.Cancel(overdue) {
		t.Error("Cancel of queued overdue reminder = false")
	}
	if !s.Cancel(fired) {
		t.Error("Cancel of fired reminder = false")
	}
	if s.Armed() != 0 {
		t.Errorf("Armed after cancel = %d", s.Armed())
	}

	run(t, s)
	time.Sleep(30 * time.Millisecond)
	if got := n.texts(); len(got) != 0 {
		t.Errorf("cancelled reminders were delivered: %v", got)
	}
	for _, id := range []int64{overdue, fired} {
		if got := statusOf(t, store, id); got != models.ReminderPending {
			t.Errorf("reminder %d status = %s, want pending", id, got)
		}
	}
}

// blockingNotifier holds Notify until release is closed
type blockingNotifier struct {
	entered chan struct{}
	release chan struct{}
}

func (n *blockingNotifier) ChannelAvailable(context.Context, string) (bool, error) {
	return true, nil
}

func (n *blockingNotifier) Notify(context.Context, string, string) error {
	close(n.entered)
	<-n.release
	return nil
}

func TestStopWaitsForDispatcher(t *testing.T) {
	store := newStore(t)
	pollID := pollWithVoters(t, store, "u1")
	id := insertReminder(t, store, pollID, "slow", start.Add(-time.Minute))

	n := &blockingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(store, n, clock.NewFake(start), textOnly)
	s.Init(context.Background())
	go s.Run(context.Background())

	select {
	case <-n.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never reached Notify")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(n.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the dispatcher finished")
	}
	// the in-flight delivery completed before Stop returned
	if got := statusOf(t, store, id); got != models.ReminderSent {
		t.Errorf("status = %s, want sent", got)
	}
}

func TestStopWithoutRun(t *testing.T) {
	store := newStore(t)
	s := New(store, &fakeNotifier{}, clock.NewFake(start), nil)
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked although Run was never started")
	}
}
