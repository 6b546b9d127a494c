package interaction

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/korjavin/whenwemeet/pkg/candidate"
	"github.com/korjavin/whenwemeet/pkg/poll"
	"github.com/korjavin/whenwemeet/pkg/scheduler"
	"github.com/korjavin/whenwemeet/pkg/session"
)

var whenLayouts = []string{"2006/01/02 15:04", "2006-01-02 15:04"}

// parseWhen reads "YYYY/MM/DD HH:mm message" in loc
func parseWhen(text string, loc *time.Location) (time.Time, string, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return time.Time{}, "", &candidate.InvalidInputError{Tokens: fields, Reason: "expected YYYY/MM/DD HH:mm"}
	}
	stamp := fields[0] + " " + fields[1]
	for _, layout := range whenLayouts {
		if t, err := time.ParseInLocation(layout, stamp, loc); err == nil {
			return t, strings.Join(fields[2:], " "), nil
		}
	}
	return time.Time{}, "", &candidate.InvalidInputError{Tokens: []string{stamp}, Reason: "expected YYYY/MM/DD HH:mm"}
}

func (r *Router) pickPoll(ctx context.Context, e Event, flow session.Flow, tag, prompt string) error {
	polls, err := r.polls.ActivePolls(ctx, e.ChatID)
	if err != nil {
		return err
	}
	if len(polls) == 0 {
		return r.send(ctx, e.ChatID, "There are no active polls.")
	}
	msgID, err := r.renderer.Send(ctx, e.ChatID, prompt, pollPicker(polls, tag))
	if err != nil {
		return err
	}
	_, err = r.sessions.StartRemind(Ref(e.ChatID, msgID), e.UserID, flow)
	return err
}

// handleRemind pings the voters of a poll option right away
func (r *Router) handleRemind(ctx context.Context, e Event) error {
	return r.pickPoll(ctx, e, session.FlowRemind, "rp", "⏰ Pick the poll whose voters should be reminded.")
}

func (r *Router) onRemindPoll(ctx context.Context, e Event, arg string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	id, err := parsePollID(arg)
	if err != nil {
		return err
	}
	p, err := r.polls.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := r.sessions.SelectPoll(e.CorrelationID, id); err != nil {
		return err
	}
	kb := append(optionPicker(p), []Button{{Text: "👥 Everyone", Data: "ro:all"}})
	text := fmt.Sprintf("⏰ <b>%s</b>\nPick the option whose voters should be reminded.", html.EscapeString(p.Title))
	if err := r.renderer.Edit(ctx, e.ChatID, e.MessageID, text, kb); err != nil {
		return err
	}
	return r.answer(ctx, e, "")
}

func (r *Router) onRemindOption(ctx context.Context, e Event, arg string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	index := -1
	if arg != "all" {
		i, err := parseIndex(arg)
		if err != nil {
			return err
		}
		index = i
	}
	if _, err := r.sessions.SelectOption(e.CorrelationID, index); err != nil {
		return err
	}
	return r.awaitInput(ctx, e, "⏰ Reply with the reminder message, or <code>-</code> for the default.")
}

// awaitInput replaces the picker with a typed-reply prompt and moves the
// session onto the prompt
func (r *Router) awaitInput(ctx context.Context, e Event, prompt string) error {
	promptID, err := r.renderer.Prompt(ctx, e.ChatID, prompt)
	if err != nil {
		return err
	}
	if err := r.sessions.Rekey(e.CorrelationID, Ref(e.ChatID, promptID)); err != nil {
		return err
	}
	if err := r.renderer.Edit(ctx, e.ChatID, e.MessageID, "⏰ Waiting for your reply…", nil); err != nil {
		r.logger.Warn("Failed to clear picker: %v", err)
	}
	return r.answer(ctx, e, "")
}

func (r *Router) replyRemindMessage(ctx context.Context, e Event, s session.Session) error {
	defer r.sessions.Cancel(s.ID)

	p, err := r.polls.Get(ctx, s.PollID)
	if err != nil {
		return err
	}
	var voters []string
	option := ""
	if s.OptionIndex < 0 {
		t, err := r.polls.Tally(ctx, p.ID)
		if err != nil {
			return err
		}
		voters = t.Voters()
	} else {
		if voters, err = r.polls.VotersAt(ctx, p.ID, s.OptionIndex); err != nil {
			return err
		}
		option = p.Options[s.OptionIndex]
	}
	if len(voters) == 0 {
		return r.send(ctx, e.ChatID, "Nobody has voted for that yet.")
	}

	msg := strings.TrimSpace(e.Text)
	if msg == "-" {
		msg = ""
	}
	return r.send(ctx, e.ChatID, r.msgs.ImmediateReminder(p, option, voters, msg))
}

// handleAutoRemind schedules a reminder. "/autoremind ID YYYY/MM/DD HH:mm
// message" does it at once; without arguments the poll is picked first
func (r *Router) handleAutoRemind(ctx context.Context, e Event) error {
	args := strings.TrimSpace(e.Args)
	if args == "" {
		return r.pickPoll(ctx, e, session.FlowAutoRemind, "ap", "⏰ Pick the poll to schedule a reminder for.")
	}
	idArg, rest, _ := strings.Cut(args, " ")
	id, err := parsePollID(idArg)
	if err != nil {
		return err
	}
	when, msg, err := parseWhen(rest, r.msgs.Location())
	if err != nil {
		return err
	}
	return r.scheduleReminder(ctx, e, id, when, msg)
}

func (r *Router) onAutoRemindPoll(ctx context.Context, e Event, arg string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	id, err := parsePollID(arg)
	if err != nil {
		return err
	}
	if _, err := r.sessions.SelectPoll(e.CorrelationID, id); err != nil {
		return err
	}
	return r.awaitInput(ctx, e, "⏰ Reply with <code>YYYY/MM/DD HH:mm message</code>.")
}

func (r *Router) replyAutoRemind(ctx context.Context, e Event, s session.Session) error {
	when, msg, err := parseWhen(e.Text, r.msgs.Location())
	if err != nil {
		return err
	}
	if err := r.scheduleReminder(ctx, e, s.PollID, when, msg); err != nil {
		return err
	}
	r.sessions.Cancel(s.ID)
	return nil
}

func (r *Router) scheduleReminder(ctx context.Context, e Event, pollID int64, when time.Time, msg string) error {
	p, err := r.polls.Get(ctx, pollID)
	if err != nil {
		return err
	}
	if p.GuildID != e.ChatID {
		return poll.ErrPollNotFound
	}
	now := r.clock.Now()
	if !when.After(now) {
		return &candidate.InvalidInputError{Tokens: []string{when.In(r.msgs.Location()).Format(whenLayouts[0])}, Reason: "reminder time is in the past"}
	}

	id, err := r.reminders.Schedule(ctx, scheduler.NewReminder{
		GuildID:   e.ChatID,
		ChannelID: e.ChatID,
		PollID:    pollID,
		Message:   msg,
		FireAt:    when,
		CreatedBy: e.UserID,
	})
	if err != nil {
		return err
	}
	return r.send(ctx, e.ChatID, r.msgs.ReminderScheduled(id, p, when, now))
}

func (r *Router) handleReminders(ctx context.Context, e Event) error {
	list, err := r.reminders.List(ctx, e.ChatID)
	if err != nil {
		return err
	}
	return r.send(ctx, e.ChatID, r.msgs.ReminderList(list, r.clock.Now()))
}
