package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/korjavin/whenwemeet/pkg/clock"
	"github.com/korjavin/whenwemeet/pkg/logger"
	"github.com/korjavin/whenwemeet/pkg/models"
	"github.com/korjavin/whenwemeet/pkg/storage"
)

// DefaultMessage is used when a reminder carries no custom text
const DefaultMessage = "Reminder!"

// Notifier delivers reminder text to a chat. ChannelAvailable reports
// false with a nil error only when the chat is known to be gone
type Notifier interface {
	ChannelAvailable(ctx context.Context, channelID string) (bool, error)
	Notify(ctx context.Context, channelID, text string) error
}

// FormatFunc renders the notification for a reminder and its voters
type FormatFunc func(r *models.Reminder, p *models.Poll, voters []string) string

// NewReminder carries everything needed to schedule a reminder
type NewReminder struct {
	GuildID   string
	ChannelID string
	PollID    int64
	Message   string
	FireAt    time.Time
	CreatedBy string
}

type task struct {
	ID         uuid.UUID
	ReminderID int64
}

type armed struct {
	timer  clock.Timer
	pollID int64
}

// Service arms one timer per pending reminder and dispatches fired
// reminders from a single goroutine
type Service struct {
	store    storage.Store
	notifier Notifier
	clock    clock.Clock
	format   FormatFunc
	logger   *logger.Logger

	mu      sync.Mutex
	timers  map[int64]armed
	queue   []task
	running bool

	wake     chan struct{}
	done     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a new scheduler service. A nil format uses DefaultFormat
func New(store storage.Store, notifier Notifier, clk clock.Clock, format FormatFunc) *Service {
	if format == nil {
		format = DefaultFormat
	}
	return &Service{
		store:    store,
		notifier: notifier,
		clock:    clk,
		format:   format,
		logger:   logger.New("scheduler"),
		timers:   make(map[int64]armed),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopChan: make(chan struct{}),
	}
}

// DefaultFormat mentions every voter, then the fire time and the message
func DefaultFormat(r *models.Reminder, _ *models.Poll, voters []string) string {
	msg := r.Message
	if msg == "" {
		msg = DefaultMessage
	}
	return strings.Join(voters, " ") + "\n" + r.FireAt.Format("2006/01/02 15:04") + "\n" + msg
}

// Init arms a timer for every pending reminder. Reminders already due are
// queued right away in (fire time, id) order
func (s *Service) Init(ctx context.Context) error {
	pending, err := s.store.ListPendingReminders(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending reminders: %w", err)
	}
	for _, r := range pending {
		s.arm(r)
	}
	s.logger.Info("Loaded %d pending reminders", len(pending))
	return nil
}

// Schedule persists a reminder and arms its timer
func (s *Service) Schedule(ctx context.Context, nr NewReminder) (int64, error) {
	r := &models.Reminder{
		GuildID:   nr.GuildID,
		ChannelID: nr.ChannelID,
		PollID:    nr.PollID,
		Message:   nr.Message,
		FireAt:    nr.FireAt,
		CreatedBy: nr.CreatedBy,
		CreatedAt: s.clock.Now(),
	}
	id, err := s.store.CreateReminder(ctx, r)
	if err != nil {
		return 0, err
	}
	s.arm(r)
	s.logger.Info("Scheduled reminder %d for poll %d at %s", id, r.PollID, r.FireAt.Format(time.RFC3339))
	return id, nil
}

func (s *Service) arm(r *models.Reminder) {
	id := r.ID
	delay := r.FireAt.Sub(s.clock.Now())
	if delay <= 0 {
		s.mu.Lock()
		s.timers[id] = armed{pollID: r.PollID}
		s.mu.Unlock()
		s.enqueue(id)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.timers[id]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	s.timers[id] = armed{
		timer:  s.clock.AfterFunc(delay, func() { s.enqueue(id) }),
		pollID: r.PollID,
	}
}

// enqueue is the only thing a timer does when it fires
func (s *Service) enqueue(reminderID int64) {
	s.mu.Lock()
	s.queue = append(s.queue, task{ID: uuid.New(), ReminderID: reminderID})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest task whose reminder is still armed. Tasks of
// cancelled reminders and repeats of one reminder are dropped
func (s *Service) next() (task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 {
		t := s.queue[0]
		s.queue = s.queue[1:]
		if _, ok := s.timers[t.ReminderID]; !ok {
			s.logger.Debug("Task %s: reminder %d is no longer armed", t.ID, t.ReminderID)
			continue
		}
		delete(s.timers, t.ReminderID)
		return t, true
	}
	return task{}, false
}

// Cancel disarms a reminder, whether its timer is still running or it is
// already queued. The stored row is left alone
func (s *Service) Cancel(reminderID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.timers[reminderID]
	if !ok {
		return false
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	delete(s.timers, reminderID)
	return true
}

// CancelPoll stops every timer that targets pollID and reports how many
func (s *Service) CancelPoll(pollID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.timers {
		if a.pollID != pollID {
			continue
		}
		if a.timer != nil {
			a.timer.Stop()
		}
		delete(s.timers, id)
		n++
	}
	return n
}

// List returns every reminder of a guild ordered by fire time
func (s *Service) List(ctx context.Context, guildID string) ([]*models.Reminder, error) {
	return s.store.ListRemindersByGuild(ctx, guildID)
}

// Armed reports how many reminders are waiting in memory
func (s *Service) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Run dispatches queued reminders until ctx is done or Stop is called.
// It must be called at most once
func (s *Service) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer close(s.done)

	s.logger.Info("Starting reminder dispatcher")
	for {
		for {
			select {
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			default:
			}
			t, ok := s.next()
			if !ok {
				break
			}
			s.dispatch(ctx, t)
		}

		select {
		case <-s.wake:
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops every timer and waits for a running dispatcher to return
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping reminder scheduler")
		s.mu.Lock()
		for id, a := range s.timers {
			if a.timer != nil {
				a.timer.Stop()
			}
			delete(s.timers, id)
		}
		running := s.running
		s.mu.Unlock()
		close(s.stopChan)
		if running {
			<-s.done
		}
	})
}

func (s *Service) skip(ctx context.Context, r *models.Reminder, reason string) {
	s.logger.Warn("Skipping reminder %d: %s", r.ID, reason)
	if err := s.store.MarkReminder(ctx, r.ID, models.ReminderSkipped, s.clock.Now()); err != nil {
		s.logger.Error("Failed to mark reminder %d skipped: %v", r.ID, err)
	}
}

// dispatch delivers one reminder. Any failure before delivery leaves the
// row pending so that the next start retries it
func (s *Service) dispatch(ctx context.Context, t task) {
	r, err := s.store.GetReminder(ctx, t.ReminderID)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Debug("Task %s: reminder %d no longer exists", t.ID, t.ReminderID)
		return
	}
	if err != nil {
		s.logger.Error("Task %s: failed to load reminder %d: %v", t.ID, t.ReminderID, err)
		return
	}
	if r.Status != models.ReminderPending {
		s.logger.Debug("Task %s: reminder %d already %s", t.ID, r.ID, r.Status)
		return
	}

	ok, err := s.notifier.ChannelAvailable(ctx, r.ChannelID)
	if err != nil {
		s.logger.Error("Task %s: failed to check channel %s, leaving reminder %d pending: %v", t.ID, r.ChannelID, r.ID, err)
		return
	}
	if !ok {
		s.skip(ctx, r, "channel "+r.ChannelID+" is not reachable")
		return
	}
	p, err := s.store.GetPoll(ctx, r.PollID)
	if errors.Is(err, storage.ErrNotFound) {
		s.skip(ctx, r, fmt.Sprintf("poll %d no longer exists", r.PollID))
		return
	}
	if err != nil {
		s.logger.Error("Task %s: failed to load poll %d: %v", t.ID, r.PollID, err)
		return
	}

	votes, err := s.store.ListVotes(ctx, r.PollID)
	if err != nil {
		s.logger.Error("Task %s: failed to load votes of poll %d: %v", t.ID, r.PollID, err)
		return
	}
	seen := make(map[string]bool)
	var voters []string
	for _, v := range votes {
		if !seen[v.VoterID] {
			seen[v.VoterID] = true
			voters = append(voters, v.VoterID)
		}
	}
	if len(voters) == 0 {
		s.skip(ctx, r, fmt.Sprintf("poll %d has no voters", r.PollID))
		return
	}

	if err := s.notifier.Notify(ctx, r.ChannelID, s.format(r, p, voters)); err != nil {
		s.logger.Error("Task %s: failed to send reminder %d, leaving it pending: %v", t.ID, r.ID, err)
		return
	}
	if err := s.store.MarkReminder(ctx, r.ID, models.ReminderSent, s.clock.Now()); err != nil {
		s.logger.Error("Task %s: reminder %d sent but not marked: %v", t.ID, r.ID, err)
		return
	}
	s.logger.Info("Task %s: reminder %d sent to %d voters", t.ID, r.ID, len(voters))
}
