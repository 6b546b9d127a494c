package interaction

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/korjavin/whenwemeet/pkg/candidate"
	"github.com/korjavin/whenwemeet/pkg/clock"
	"github.com/korjavin/whenwemeet/pkg/logger"
	"github.com/korjavin/whenwemeet/pkg/messages"
	"github.com/korjavin/whenwemeet/pkg/models"
	"github.com/korjavin/whenwemeet/pkg/poll"
	"github.com/korjavin/whenwemeet/pkg/scheduler"
	"github.com/korjavin/whenwemeet/pkg/session"
	"github.com/korjavin/whenwemeet/pkg/stats"
)

// Reminders schedules and lists reminders
type Reminders interface {
	Schedule(ctx context.Context, nr scheduler.NewReminder) (int64, error)
	CancelPoll(pollID int64) int
	List(ctx context.Context, guildID string) ([]*models.Reminder, error)
}

type handlerFunc func(ctx context.Context, e Event) error

// callbackFunc receives the part of the callback data after the tag
type callbackFunc func(ctx context.Context, e Event, arg string) error

// Router turns events into poll, session and reminder operations
type Router struct {
	renderer    Renderer
	polls       *poll.Service
	sessions    *session.Manager
	reminders   Reminders
	stats       *stats.Service
	msgs        *messages.Service
	clock       clock.Clock
	expireHours int

	commands  map[string]handlerFunc
	callbacks map[string]callbackFunc
	logger    *logger.Logger
}

// Config holds the dependencies of a Router
type Config struct {
	Renderer  Renderer
	Polls     *poll.Service
	Sessions  *session.Manager
	Reminders Reminders
	Stats     *stats.Service
	Messages  *messages.Service
	Clock     clock.Clock
	// ExpireHours is the poll lifetime used when a request names none.
	// Zero means polls never expire
	ExpireHours int
}

// New creates a new router
func New(cfg Config) *Router {
	r := &Router{
		renderer:    cfg.Renderer,
		polls:       cfg.Polls,
		sessions:    cfg.Sessions,
		reminders:   cfg.Reminders,
		stats:       cfg.Stats,
		msgs:        cfg.Messages,
		clock:       cfg.Clock,
		expireHours: cfg.ExpireHours,
		logger:      logger.New("router"),
	}

	r.commands = map[string]handlerFunc{
		"start":      r.handleStart,
		"help":       r.handleHelp,
		"schedule":   r.handleSchedule,
		"specif":     r.handleSpecif,
		"polls":      r.handlePolls,
		"tbc":        r.handleTBC,
		"close":      r.handleClose,
		"delete":     r.handleDelete,
		"remind":     r.handleRemind,
		"autoremind": r.handleAutoRemind,
		"stats":      r.handleStats,
		"reminders":  r.handleReminders,
	}

	r.callbacks = map[string]callbackFunc{
		// poll message
		"v":   r.onVote,
		"pg":  r.onPage,
		"end": r.onEnd,
		// ballot
		"bo": r.onBallotOpen,
		"b":  r.onBallotToggle,
		"bs": r.onBallotSubmit,
		"bx": r.onBallotCancel,
		// ranged preview
		"rc": r.onRangedCommit,
		"rx": r.onFormCancel,
		// calendar
		"cm": r.onCalendarMonth,
		"cd": r.onCalendarDate,
		"cp": r.onCalendarPage,
		"cn": r.onNoop,
		"ca": r.onCalendarAdd,
		"cs": r.onCalendarSlot,
		"cg": r.onCalendarSlotsDone,
		"cc": r.onCalendarCommit,
		"cx": r.onFormCancel,
		// reminders
		"rp": r.onRemindPoll,
		"ro": r.onRemindOption,
		"ap": r.onAutoRemindPoll,
		// confirmations
		"dy": r.onDeleteConfirm,
		"dn": r.onDismiss,
		"fy": r.onFinalize,
		"fn": r.onDismiss,
	}
	return r
}

// Handle processes one event. Errors are reported to the user and logged;
// they never escape
func (r *Router) Handle(ctx context.Context, e Event) {
	r.msgs.RememberName(e.UserID, e.UserName)

	var err error
	switch e.Kind {
	case KindCommand:
		h, ok := r.commands[e.Command]
		if !ok {
			return
		}
		r.logger.Info("Handling command /%s from %s in %s", e.Command, e.UserID, e.ChatID)
		err = h(ctx, e)
	case KindCallback:
		tag, arg, _ := strings.Cut(e.Data, ":")
		h, ok := r.callbacks[tag]
		if !ok {
			r.logger.Warn("Unknown callback data %q", e.Data)
			r.renderer.Answer(ctx, e.CallbackID, "", false)
			return
		}
		r.logger.Debug("Handling callback %s from %s", e.Data, e.UserID)
		err = h(ctx, e, arg)
	case KindText:
		if e.ReplyTo == "" {
			return
		}
		err = r.handleReply(ctx, e)
	}

	if err == nil {
		return
	}
	r.logger.Error("Failed to handle %s %q in %s: %v", e.Kind, e.Command+e.Data, e.ChatID, err)
	text := messages.Describe(err)
	if e.Kind == KindCallback {
		if aerr := r.renderer.Answer(ctx, e.CallbackID, stripTags(text), true); aerr != nil {
			r.logger.Error("Failed to answer callback: %v", aerr)
		}
		return
	}
	if _, serr := r.renderer.Send(ctx, e.ChatID, text, nil); serr != nil {
		r.logger.Error("Failed to send error message: %v", serr)
	}
}

// stripTags removes HTML markup for plain-text surfaces such as callback alerts
func stripTags(s string) string {
	var b strings.Builder
	in := false
	for _, r := range s {
		switch {
		case r == '<':
			in = true
		case r == '>':
			in = false
		case !in:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (r *Router) send(ctx context.Context, chatID, text string) error {
	_, err := r.renderer.Send(ctx, chatID, text, nil)
	return err
}

func (r *Router) answer(ctx context.Context, e Event, text string) error {
	return r.renderer.Answer(ctx, e.CallbackID, text, false)
}

func (r *Router) onNoop(ctx context.Context, e Event, _ string) error {
	return r.answer(ctx, e, "")
}

func (r *Router) onDismiss(ctx context.Context, e Event, _ string) error {
	if err := r.renderer.Edit(ctx, e.ChatID, e.MessageID, "Cancelled.", nil); err != nil {
		return err
	}
	return r.answer(ctx, e, "")
}

func (r *Router) handleStart(ctx context.Context, e Event) error {
	return r.send(ctx, e.ChatID, messages.Welcome())
}

func (r *Router) handleHelp(ctx context.Context, e Event) error {
	return r.send(ctx, e.ChatID, messages.Help())
}

func (r *Router) handlePolls(ctx context.Context, e Event) error {
	polls, err := r.polls.ActivePolls(ctx, e.ChatID)
	if err != nil {
		return err
	}
	return r.send(ctx, e.ChatID, r.msgs.PollList(polls, r.clock.Now()))
}

func (r *Router) handleStats(ctx context.Context, e Event) error {
	st, err := r.stats.Compute(ctx, e.ChatID, e.Args, r.clock.Now())
	if err != nil {
		return err
	}
	return r.send(ctx, e.ChatID, messages.StatsText(st))
}

// parsePollID reads a poll id argument
func parsePollID(arg string) (int64, error) {
	arg = strings.TrimPrefix(strings.TrimSpace(arg), "#")
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, &candidate.InvalidInputError{Tokens: []string{arg}, Reason: "expected a poll id"}
	}
	return id, nil
}

// expiry resolves the deadline of a new poll
func (r *Router) expiry(hours int) *time.Time {
	if hours <= 0 {
		hours = r.expireHours
	}
	if hours <= 0 {
		return nil
	}
	t := r.clock.Now().Add(time.Duration(hours) * time.Hour)
	return &t
}

func parseHours(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	h, err := strconv.Atoi(s)
	if err != nil || h < 0 {
		return 0, &candidate.InvalidInputError{Tokens: []string{s}, Reason: "expiry must be a whole number of hours"}
	}
	return h, nil
}

// ownedSession loads a session and checks that the event's user started it
func (r *Router) ownedSession(e Event) (session.Session, error) {
	s, err := r.sessions.Get(e.CorrelationID)
	if err != nil {
		return s, err
	}
	if s.Owner != e.UserID {
		return s, session.ErrNotOwner
	}
	return s, nil
}

func (r *Router) onFormCancel(ctx context.Context, e Event, _ string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	r.sessions.Cancel(e.CorrelationID)
	return r.onDismiss(ctx, e, "")
}

// handleReply routes a typed answer to the session waiting on its prompt
func (r *Router) handleReply(ctx context.Context, e Event) error {
	id := Ref(e.ChatID, e.ReplyTo)
	s, err := r.sessions.Get(id)
	if err != nil {
		// replies to unrelated messages are ordinary chat
		return nil
	}
	if s.Owner != e.UserID {
		return nil
	}

	switch {
	case s.Flow == session.FlowRanged && s.State == session.StateCollectingDates:
		return r.replyDateRange(ctx, e, id)
	case s.Flow == session.FlowRanged && s.State == session.StateCollectingTimes:
		return r.replyTimes(ctx, e, id)
	case s.Flow == session.FlowRemind && s.State == session.StateAwaitInput:
		return r.replyRemindMessage(ctx, e, s)
	case s.Flow == session.FlowAutoRemind && s.State == session.StateAwaitInput:
		return r.replyAutoRemind(ctx, e, s)
	}
	return nil
}
