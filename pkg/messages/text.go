package messages

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/korjavin/whenwemeet/pkg/candidate"
	"github.com/korjavin/whenwemeet/pkg/models"
	"github.com/korjavin/whenwemeet/pkg/poll"
	"github.com/korjavin/whenwemeet/pkg/scheduler"
)

const (
	barCells  = 10
	timeStamp = "2006/01/02 15:04"
)

// Percent is count's share of total, rounded to the nearest integer
func Percent(count, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(count) * 100 / float64(total)))
}

// Bar draws a ten cell bar for a percentage
func Bar(pct int) string {
	filled := int(math.Round(float64(pct) / 100 * barCells))
	if filled > barCells {
		filled = barCells
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", barCells-filled)
}

func (s *Service) stamp(t time.Time) string {
	return t.In(s.loc).Format(timeStamp)
}

// PollBody renders the live poll message
func (s *Service) PollBody(p *models.Poll, t poll.Tally) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>%s</b>\n", html.EscapeString(p.Title))
	if p.Description != "" {
		b.WriteString(html.EscapeString(p.Description) + "\n")
	}
	b.WriteString("\n")

	total := t.Total()
	for i, opt := range p.Options {
		count := 0
		if i < len(t) {
			count = len(t[i])
		}
		pct := Percent(count, total)
		fmt.Fprintf(&b, "%d. %s\n", i+1, html.EscapeString(opt))
		fmt.Fprintf(&b, "   %s %s (%d%%)\n", Bar(pct), english.Plural(count, "vote", ""), pct)
	}

	b.WriteString("\n")
	footer := fmt.Sprintf("Poll ID: %d", p.ID)
	if p.ExpiresAt != nil {
		footer += fmt.Sprintf(" | ⏰ until %s", s.stamp(*p.ExpiresAt))
	}
	if !p.Active {
		footer += " | 🔒 closed"
	}
	b.WriteString(footer)
	return b.String()
}

// ResultsReport renders the ranked results with every voter's choices
func (s *Service) ResultsReport(r *poll.Results) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Results: %s</b>\n", html.EscapeString(r.Poll.Title))
	if r.Poll.Description != "" {
		b.WriteString(html.EscapeString(r.Poll.Description) + "\n")
	}
	fmt.Fprintf(&b, "Poll ID: %d\n\n", r.Poll.ID)

	if r.Tally.Total() == 0 {
		b.WriteString("No votes yet.")
		return b.String()
	}

	b.WriteString("📈 <b>Ranking</b>\n")
	rank := 0
	for _, row := range r.Ranked {
		if len(row.Voters) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s <b>%s</b> - %s\n", medal(rank), html.EscapeString(row.Label), english.Plural(len(row.Voters), "vote", ""))
		rank++
	}

	b.WriteString("\n👥 <b>Choices</b>\n")
	for _, voter := range r.Voters {
		labels := make([]string, 0, len(r.ByVoter[voter]))
		for _, i := range r.ByVoter[voter] {
			labels = append(labels, html.EscapeString(r.Poll.Options[i]))
		}
		fmt.Fprintf(&b, "👤 %s: %s\n", s.Mention(voter), strings.Join(labels, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func medal(rank int) string {
	switch rank {
	case 0:
		return "🥇"
	case 1:
		return "🥈"
	case 2:
		return "🥉"
	}
	return "📅"
}

// Reminder renders a scheduled reminder. It satisfies scheduler.FormatFunc
func (s *Service) Reminder(r *models.Reminder, p *models.Poll, voters []string) string {
	msg := r.Message
	if msg == "" {
		msg = scheduler.DefaultMessage
	}
	var b strings.Builder
	b.WriteString(s.Mentions(voters) + "\n")
	fmt.Fprintf(&b, "⏰ %s\n", s.stamp(r.FireAt))
	if p != nil {
		fmt.Fprintf(&b, "📅 %s\n", html.EscapeString(p.Title))
	}
	b.WriteString(html.EscapeString(msg))
	return b.String()
}

// ImmediateReminder pings voters right away. An empty option means every
// voter of the poll
func (s *Service) ImmediateReminder(p *models.Poll, option string, voters []string, msg string) string {
	if msg == "" {
		msg = scheduler.DefaultMessage
	}
	target := html.EscapeString(p.Title)
	if option != "" {
		target += ": " + html.EscapeString(option)
	}
	return fmt.Sprintf("%s\n📅 %s\n%s", s.Mentions(voters), target, html.EscapeString(msg))
}

// ReminderScheduled confirms a new reminder
func (s *Service) ReminderScheduled(id int64, p *models.Poll, fireAt, now time.Time) string {
	return fmt.Sprintf("⏰ Reminder #%d for <b>%s</b> set for %s (%s).",
		id, html.EscapeString(p.Title), s.stamp(fireAt), humanize.RelTime(fireAt, now, "ago", "from now"))
}

// PollList renders the active polls of a chat
func (s *Service) PollList(polls []*models.Poll, now time.Time) string {
	if len(polls) == 0 {
		return "There are no active polls. Start one with /schedule."
	}
	var b strings.Builder
	b.WriteString("🗳 <b>Active polls</b>\n")
	for _, p := range polls {
		fmt.Fprintf(&b, "#%d <b>%s</b> (%s)", p.ID, html.EscapeString(p.Title), english.Plural(len(p.Options), "option", ""))
		if p.ExpiresAt != nil {
			fmt.Fprintf(&b, ", closes %s", humanize.RelTime(*p.ExpiresAt, now, "ago", "from now"))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ReminderList renders the reminders of a chat
func (s *Service) ReminderList(rs []*models.Reminder, now time.Time) string {
	if len(rs) == 0 {
		return "No reminders are scheduled."
	}
	var b strings.Builder
	b.WriteString("⏰ <b>Reminders</b>\n")
	for _, r := range rs {
		msg := r.Message
		if msg == "" {
			msg = scheduler.DefaultMessage
		}
		fmt.Fprintf(&b, "#%d poll %d at %s (%s) [%s] %s\n",
			r.ID, r.PollID, s.stamp(r.FireAt), humanize.RelTime(r.FireAt, now, "ago", "from now"), r.Status, html.EscapeString(msg))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Preview lists generated candidates before the poll is created
func Preview(title string, labels []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>%s</b>\n%s:\n", html.EscapeString(title), english.Plural(len(labels), "candidate", ""))
	for i, l := range labels {
		fmt.Fprintf(&b, "%d. %s\n", i+1, html.EscapeString(l))
	}
	b.WriteString("\nCreate the poll?")
	return b.String()
}

// CalendarText is the header above the date picker
func CalendarText(title string, month candidate.Date, selected []candidate.Date) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>%s</b>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "%s %d: pick the candidate dates.\n", month.Month, month.Year)
	b.WriteString(selectedDates(selected))
	return b.String()
}

// SlotText is the header above the time slot picker
func SlotText(title string, dates []candidate.Date, slots []candidate.Slot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>%s</b>\n", html.EscapeString(title))
	b.WriteString(selectedDates(dates))
	b.WriteString("\nPick the time slots:\n")
	for _, slot := range candidate.AllSlots {
		mark := "▫️"
		for _, sel := range slots {
			if sel == slot {
				mark = "✅"
			}
		}
		fmt.Fprintf(&b, "%s %s (%s)\n", mark, slot.Label(), slot.Hours())
	}
	return strings.TrimRight(b.String(), "\n")
}

func selectedDates(dates []candidate.Date) string {
	if len(dates) == 0 {
		return "Selected: none"
	}
	parts := make([]string, len(dates))
	for i, d := range dates {
		parts[i] = d.Short()
	}
	return "Selected: " + strings.Join(parts, ", ")
}

// BallotText is shown above a voter's pending multi-selection
func BallotText(p *models.Poll, selected []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🗳 <b>%s</b>\nTap options to select them, then submit.\n", html.EscapeString(p.Title))
	if len(selected) == 0 {
		b.WriteString("Selected: none")
		return b.String()
	}
	labels := make([]string, len(selected))
	for i, idx := range selected {
		labels[i] = html.EscapeString(p.Options[idx])
	}
	b.WriteString("Selected: " + strings.Join(labels, ", "))
	return b.String()
}

var periodLabels = map[string]string{
	"today": "Today",
	"week":  "This week",
	"month": "This month",
	"all":   "All time",
}

// StatsText renders poll statistics for a chat
func StatsText(st *models.Statistics) string {
	var b strings.Builder
	label := periodLabels[st.Period]
	if label == "" {
		label = st.Period
	}
	fmt.Fprintf(&b, "📊 <b>Poll statistics</b> (%s)\n\n", label)
	fmt.Fprintf(&b, "Polls: %s\nVotes: %s\n", humanize.Comma(int64(st.TotalPolls)), humanize.Comma(int64(st.TotalVotes)))

	if st.TotalPolls > 0 {
		b.WriteString("\n📋 <b>By kind</b>\n")
		for _, kind := range []models.PollKind{models.KindRanged, models.KindCalendar} {
			fmt.Fprintf(&b, "%s: %s, %s\n", kind,
				english.Plural(st.PollsByKind[kind], "poll", ""), english.Plural(st.VotesByKind[kind], "vote", ""))
		}
	}
	if st.TopPollID != 0 {
		fmt.Fprintf(&b, "\n🏆 <b>Most voted</b>\n#%d %s (%s)", st.TopPollID, html.EscapeString(st.TopPollTitle), english.Plural(st.TopPollVotes, "vote", ""))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Welcome greets a chat
func Welcome() string {
	return "👋 Welcome to WhenWeMeet! I help your group find a time that works for everyone.\n\n" + Help()
}

// Help lists every command
func Help() string {
	return strings.Join([]string{
		"<b>Commands</b>",
		"/schedule title | from | to | times | description | expire_hours - poll over a date range",
		"/schedule title - same, asking for each value",
		"/specif title | description - pick dates on a calendar",
		"/polls - list active polls",
		"/tbc id - publish results and finalize",
		"/close id - stop accepting votes",
		"/delete id - delete a poll",
		"/remind - ping the voters of an option now",
		"/autoremind - schedule a reminder for a poll's voters",
		"/reminders - list reminders",
		"/stats [today|week|month|all] - poll statistics",
		"",
		"Dates are YYYY-MM-DD or YYYY/MM/DD. Times are HH:MM, HHMM or HMM separated by / , or spaces.",
	}, "\n")
}
