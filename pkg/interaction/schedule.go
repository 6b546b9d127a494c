package interaction

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/korjavin/whenwemeet/pkg/candidate"
	"github.com/korjavin/whenwemeet/pkg/messages"
	"github.com/korjavin/whenwemeet/pkg/models"
	"github.com/korjavin/whenwemeet/pkg/poll"
	"github.com/korjavin/whenwemeet/pkg/session"
)

// splitArgs splits "a | b | c" into trimmed parts
func splitArgs(args string) []string {
	if strings.TrimSpace(args) == "" {
		return nil
	}
	parts := strings.Split(args, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func part(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

// publishPoll creates the poll row and renders it. An empty messageID sends
// a new message, otherwise the given message is turned into the poll
func (r *Router) publishPoll(ctx context.Context, chatID, messageID, owner string, kind models.PollKind, d session.Draft, labels []string) (*models.Poll, error) {
	p, err := r.polls.Create(ctx, poll.NewPoll{
		ChannelID:   chatID,
		GuildID:     chatID,
		CreatorID:   owner,
		Title:       d.Title,
		Description: d.Description,
		Kind:        kind,
		Options:     labels,
		ExpiresAt:   r.expiry(d.ExpireHours),
	})
	if err != nil {
		return nil, err
	}

	body := r.msgs.PollBody(p, nil)
	if messageID == "" {
		messageID, err = r.renderer.Send(ctx, chatID, body, pollKeyboard(p, 0))
	} else {
		err = r.renderer.Edit(ctx, chatID, messageID, body, pollKeyboard(p, 0))
	}
	if err != nil {
		if _, derr := r.polls.Delete(ctx, p.ID, owner); derr != nil {
			r.logger.Error("Failed to remove unpublished poll %d: %v", p.ID, derr)
		}
		return nil, fmt.Errorf("failed to publish poll: %w", err)
	}

	ref := Ref(chatID, messageID)
	if err := r.polls.AttachMessage(ctx, p.ID, ref); err != nil {
		return nil, err
	}
	p.MessageRef = ref
	r.logger.Info("Published %s poll %d with %d options in %s", kind, p.ID, len(labels), chatID)
	return p, nil
}

func (r *Router) commitPoll(chatID, messageID string, kind models.PollKind) session.CommitFunc {
	return func(ctx context.Context, s session.Session) error {
		_, err := r.publishPoll(ctx, chatID, messageID, s.Owner, kind, s.Draft, candidate.Labels(s.Candidates))
		return err
	}
}

// handleSchedule creates a ranged poll in one go, or starts asking for the
// range and times when only a title is given
func (r *Router) handleSchedule(ctx context.Context, e Event) error {
	parts := splitArgs(e.Args)
	if len(parts) == 0 || parts[0] == "" {
		return &candidate.InvalidInputError{Reason: "usage: /schedule title | from | to | times | description | expire_hours"}
	}
	if len(parts) == 1 {
		return r.promptDateRange(ctx, e, session.Draft{Title: parts[0]})
	}
	if len(parts) < 4 {
		return &candidate.InvalidInputError{Tokens: parts[1:], Reason: "expected title | from | to | times"}
	}

	hours, err := parseHours(part(parts, 5))
	if err != nil {
		return err
	}
	from, err := candidate.ParseDate(parts[1])
	if err != nil {
		return err
	}
	to, err := candidate.ParseDate(parts[2])
	if err != nil {
		return err
	}

	id := Ref(e.ChatID, e.MessageID)
	r.sessions.StartRanged(id, e.UserID, session.Draft{Title: parts[0], Description: part(parts, 4), ExpireHours: hours})
	if _, err := r.sessions.SetDateRange(id, from, to); err != nil {
		r.sessions.Cancel(id)
		return err
	}
	if _, err := r.sessions.SetTimes(id, candidate.ParseTimes(parts[3])); err != nil {
		r.sessions.Cancel(id)
		return err
	}
	if err := r.sessions.Commit(ctx, id, r.commitPoll(e.ChatID, "", models.KindRanged)); err != nil {
		r.sessions.Cancel(id)
		return err
	}
	return nil
}

func (r *Router) promptDateRange(ctx context.Context, e Event, d session.Draft) error {
	text := fmt.Sprintf("📅 <b>%s</b>\nReply with the date range, e.g. <code>2025-01-10 2025-01-12</code>", html.EscapeString(d.Title))
	promptID, err := r.renderer.Prompt(ctx, e.ChatID, text)
	if err != nil {
		return err
	}
	r.sessions.StartRanged(Ref(e.ChatID, promptID), e.UserID, d)
	return nil
}

func (r *Router) replyDateRange(ctx context.Context, e Event, id string) error {
	fields := strings.Fields(strings.NewReplacer("~", " ", "〜", " ").Replace(e.Text))
	if len(fields) == 0 || len(fields) > 2 {
		return &candidate.InvalidInputError{Tokens: fields, Reason: "expected FROM TO dates"}
	}
	from, err := candidate.ParseDate(fields[0])
	if err != nil {
		return err
	}
	to := from
	if len(fields) == 2 {
		if to, err = candidate.ParseDate(fields[1]); err != nil {
			return err
		}
	}
	s, err := r.sessions.SetDateRange(id, from, to)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("📅 <b>%s</b> %s - %s\nReply with the times, e.g. <code>09:00 14:00 19:30</code>",
		html.EscapeString(s.Draft.Title), s.From.Short(), s.To.Short())
	promptID, err := r.renderer.Prompt(ctx, e.ChatID, text)
	if err != nil {
		return err
	}
	return r.sessions.Rekey(id, Ref(e.ChatID, promptID))
}

func (r *Router) replyTimes(ctx context.Context, e Event, id string) error {
	s, err := r.sessions.SetTimes(id, candidate.ParseTimes(e.Text))
	if err != nil {
		return err
	}
	previewID, err := r.renderer.Send(ctx, e.ChatID,
		messages.Preview(s.Draft.Title, candidate.Labels(s.Candidates)),
		confirmKeyboard("✅ Create poll", "rc", "❌ Cancel", "rx"))
	if err != nil {
		return err
	}
	return r.sessions.Rekey(id, Ref(e.ChatID, previewID))
}

func (r *Router) onRangedCommit(ctx context.Context, e Event, _ string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	if err := r.sessions.Commit(ctx, e.CorrelationID, r.commitPoll(e.ChatID, e.MessageID, models.KindRanged)); err != nil {
		return err
	}
	return r.answer(ctx, e, "✅ Poll created")
}

// handleSpecif opens the calendar picker
func (r *Router) handleSpecif(ctx context.Context, e Event) error {
	parts := splitArgs(e.Args)
	if len(parts) == 0 || parts[0] == "" {
		return &candidate.InvalidInputError{Reason: "usage: /specif title | description | expire_hours"}
	}
	hours, err := parseHours(part(parts, 2))
	if err != nil {
		return err
	}
	d := session.Draft{Title: parts[0], Description: part(parts, 1), ExpireHours: hours}
	month := firstDay(candidate.DateOf(r.clock.Now().In(r.msgs.Location())))

	msgID, err := r.renderer.Send(ctx, e.ChatID, messages.CalendarText(d.Title, month, nil), calendarKeyboard(month, 0, nil))
	if err != nil {
		return err
	}
	s := r.sessions.StartCalendar(Ref(e.ChatID, msgID), e.UserID, d, month)
	r.logger.Debug("Started calendar session %s", s.ID)
	return nil
}

func firstDay(d candidate.Date) candidate.Date {
	return candidate.Date{Year: d.Year, Month: d.Month, Day: 1}
}

func (r *Router) renderCalendar(ctx context.Context, e Event, s session.Session) error {
	text := messages.CalendarText(s.Draft.Title, s.Month, s.SelectedDates())
	if err := r.renderer.Edit(ctx, e.ChatID, e.MessageID, text, calendarKeyboard(s.Month, s.Page, s.Dates)); err != nil {
		return err
	}
	return r.answer(ctx, e, "")
}

func (r *Router) renderSlots(ctx context.Context, e Event, s session.Session) error {
	text := messages.SlotText(s.Draft.Title, s.SelectedDates(), s.SelectedSlots())
	if err := r.renderer.Edit(ctx, e.ChatID, e.MessageID, text, slotKeyboard(s.Slots)); err != nil {
		return err
	}
	return r.answer(ctx, e, "")
}

func (r *Router) onCalendarMonth(ctx context.Context, e Event, arg string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	month, err := candidate.ParseDate(arg + "-01")
	if err != nil {
		return err
	}
	s, err := r.sessions.ChangeMonth(e.CorrelationID, month)
	if err != nil {
		return err
	}
	return r.renderCalendar(ctx, e, s)
}

func (r *Router) onCalendarDate(ctx context.Context, e Event, arg string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	d, err := candidate.ParseDate(arg)
	if err != nil {
		return err
	}
	s, err := r.sessions.ToggleDate(e.CorrelationID, d)
	if err != nil {
		return err
	}
	return r.renderCalendar(ctx, e, s)
}

func (r *Router) onCalendarPage(ctx context.Context, e Event, arg string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	page, err := strconv.Atoi(arg)
	if err != nil {
		return &candidate.InvalidInputError{Tokens: []string{arg}, Reason: "bad page"}
	}
	s, err := r.sessions.ChangePage(e.CorrelationID, page)
	if err != nil {
		return err
	}
	return r.renderCalendar(ctx, e, s)
}

func (r *Router) onCalendarAdd(ctx context.Context, e Event, _ string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	s, err := r.sessions.AddCandidates(e.CorrelationID)
	if err != nil {
		return err
	}
	return r.renderSlots(ctx, e, s)
}

func (r *Router) onCalendarSlot(ctx context.Context, e Event, arg string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	s, err := r.sessions.ToggleSlot(e.CorrelationID, candidate.Slot(arg))
	if err != nil {
		return err
	}
	return r.renderSlots(ctx, e, s)
}

func (r *Router) onCalendarSlotsDone(ctx context.Context, e Event, _ string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	s, err := r.sessions.FinishSlots(e.CorrelationID)
	if err != nil {
		return err
	}
	text := messages.Preview(s.Draft.Title, candidate.Labels(s.Candidates))
	if err := r.renderer.Edit(ctx, e.ChatID, e.MessageID, text, confirmKeyboard("✅ Create poll", "cc", "❌ Cancel", "cx")); err != nil {
		return err
	}
	return r.answer(ctx, e, "")
}

func (r *Router) onCalendarCommit(ctx context.Context, e Event, _ string) error {
	if _, err := r.ownedSession(e); err != nil {
		return err
	}
	if err := r.sessions.Commit(ctx, e.CorrelationID, r.commitPoll(e.ChatID, e.MessageID, models.KindCalendar)); err != nil {
		return err
	}
	return r.answer(ctx, e, "✅ Poll created")
}
