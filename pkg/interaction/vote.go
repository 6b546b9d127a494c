package interaction

import (
	"context"
	"fmt"
	"html"
	"strconv"

	"github.com/korjavin/whenwemeet/pkg/candidate"
	"github.com/korjavin/whenwemeet/pkg/messages"
	"github.com/korjavin/whenwemeet/pkg/poll"
)

func parseIndex(arg string) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil {
		return 0, &candidate.InvalidInputError{Tokens: []string{arg}, Reason: "bad option"}
	}
	return i, nil
}

// refreshPoll re-renders a poll's message from the ledger
func (r *Router) refreshPoll(ctx context.Context, pollID int64, page int) error {
	p, err := r.polls.Get(ctx, pollID)
	if err != nil {
		return err
	}
	chatID, msgID, ok := SplitRef(p.MessageRef)
	if !ok {
		return nil
	}
	t, err := r.polls.Tally(ctx, pollID)
	if err != nil {
		return err
	}
	return r.renderer.Edit(ctx, chatID, msgID, r.msgs.PollBody(p, t), pollKeyboard(p, page))
}

func (r *Router) onVote(ctx context.Context, e Event, arg string) error {
	index, err := parseIndex(arg)
	if err != nil {
		return err
	}
	p, err := r.polls.GetByMessage(ctx, e.CorrelationID)
	if err != nil {
		return err
	}
	action, err := r.polls.ToggleVote(ctx, p.ID, e.UserID, index)
	if err != nil {
		return err
	}
	if err := r.refreshPoll(ctx, p.ID, index/optionsPerPage); err != nil {
		r.logger.Error("Failed to refresh poll %d: %v", p.ID, err)
	}

	if action == poll.ActionCast {
		return r.answer(ctx, e, "✅ Voted for "+p.Options[index])
	}
	return r.answer(ctx, e, "↩️ Vote withdrawn: "+p.Options[index])
}

func (r *Router) onPage(ctx context.Context, e Event, arg string) error {
	page, err := strconv.Atoi(arg)
	if err != nil {
		return &candidate.InvalidInputError{Tokens: []string{arg}, Reason: "bad page"}
	}
	p, err := r.polls.GetByMessage(ctx, e.CorrelationID)
	if err != nil {
		return err
	}
	if err := r.refreshPoll(ctx, p.ID, page); err != nil {
		return err
	}
	return r.answer(ctx, e, "")
}

// onEnd closes the poll from its own message and posts the results
func (r *Router) onEnd(ctx context.Context, e Event, _ string) error {
	p, err := r.polls.GetByMessage(ctx, e.CorrelationID)
	if err != nil {
		return err
	}
	if _, err := r.polls.Close(ctx, p.ID, e.UserID); err != nil {
		return err
	}
	if err := r.refreshPoll(ctx, p.ID, 0); err != nil {
		r.logger.Error("Failed to refresh poll %d: %v", p.ID, err)
	}
	res, err := r.polls.Results(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := r.send(ctx, e.ChatID, r.msgs.ResultsReport(res)); err != nil {
		return err
	}
	return r.answer(ctx, e, "🔒 Poll closed")
}

func (r *Router) onBallotOpen(ctx context.Context, e Event, _ string) error {
	p, err := r.polls.GetByMessage(ctx, e.CorrelationID)
	if err != nil {
		return err
	}
	if p.Expired(r.clock.Now()) {
		return poll.ErrPollExpired
	}
	t, err := r.polls.Tally(ctx, p.ID)
	if err != nil {
		return err
	}
	var current []int
	selected := make(map[int]bool)
	for i, voters := range t {
		for _, v := range voters {
			if v == e.UserID {
				current = append(current, i)
				selected[i] = true
			}
		}
	}

	text := r.msgs.Mention(e.UserID) + "\n" + messages.BallotText(p, current)
	msgID, err := r.renderer.Send(ctx, e.ChatID, text, ballotKeyboard(p, selected))
	if err != nil {
		return err
	}
	r.sessions.StartBallot(ballotRef(e.ChatID, msgID, e.UserID), e.UserID, p.ID, current)
	return r.answer(ctx, e, "")
}

func (r *Router) onBallotToggle(ctx context.Context, e Event, arg string) error {
	index, err := parseIndex(arg)
	if err != nil {
		return err
	}
	id := ballotRef(e.ChatID, e.MessageID, e.UserID)
	s, err := r.sessions.Get(id)
	if err != nil {
		return err
	}
	p, err := r.polls.Get(ctx, s.PollID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(p.Options) {
		return poll.ErrOptionOutOfRange
	}
	if s, err = r.sessions.ToggleBallot(id, index); err != nil {
		return err
	}
	text := r.msgs.Mention(e.UserID) + "\n" + messages.BallotText(p, s.BallotIndices())
	if err := r.renderer.Edit(ctx, e.ChatID, e.MessageID, text, ballotKeyboard(p, s.Ballot)); err != nil {
		return err
	}
	return r.answer(ctx, e, "")
}

func (r *Router) onBallotSubmit(ctx context.Context, e Event, _ string) error {
	id := ballotRef(e.ChatID, e.MessageID, e.UserID)
	s, err := r.sessions.Get(id)
	if err != nil {
		return err
	}
	selection, err := r.sessions.BallotSelection(id)
	if err != nil {
		return err
	}
	if err := r.polls.ReplaceVotes(ctx, s.PollID, e.UserID, selection); err != nil {
		return err
	}
	r.sessions.Cancel(id)

	if err := r.renderer.Delete(ctx, e.ChatID, e.MessageID); err != nil {
		r.logger.Warn("Failed to delete ballot message: %v", err)
	}
	if err := r.refreshPoll(ctx, s.PollID, 0); err != nil {
		r.logger.Error("Failed to refresh poll %d: %v", s.PollID, err)
	}
	return r.answer(ctx, e, "✅ Votes saved")
}

func (r *Router) onBallotCancel(ctx context.Context, e Event, _ string) error {
	id := ballotRef(e.ChatID, e.MessageID, e.UserID)
	if _, err := r.sessions.Get(id); err != nil {
		return err
	}
	r.sessions.Cancel(id)
	if err := r.renderer.Delete(ctx, e.ChatID, e.MessageID); err != nil {
		r.logger.Warn("Failed to delete ballot message: %v", err)
	}
	return r.answer(ctx, e, "")
}

// handleTBC posts the results with a finalize button
func (r *Router) handleTBC(ctx context.Context, e Event) error {
	id, err := parsePollID(e.Args)
	if err != nil {
		return err
	}
	res, err := r.polls.Results(ctx, id)
	if err != nil {
		return err
	}
	if res.Poll.GuildID != e.ChatID {
		return poll.ErrPollNotFound
	}
	var kb Keyboard
	if res.Tally.Total() > 0 {
		kb = confirmKeyboard("✅ Finalize", fmt.Sprintf("fy:%d", id), "❌ Cancel", "fn")
	}
	_, err = r.renderer.Send(ctx, e.ChatID, r.msgs.ResultsReport(res), kb)
	return err
}

func (r *Router) onFinalize(ctx context.Context, e Event, arg string) error {
	id, err := parsePollID(arg)
	if err != nil {
		return err
	}
	if _, err := r.polls.Close(ctx, id, e.UserID); err != nil {
		return err
	}
	res, err := r.polls.Results(ctx, id)
	if err != nil {
		return err
	}
	winners := make([]string, len(res.Winners))
	for i, w := range res.Winners {
		winners[i] = res.Poll.Options[w]
	}

	text := r.msgs.ResultsReport(res) + "\n\n" + r.msgs.GenerateAnnouncement(ctx, res.Poll.Title, winners)
	if err := r.renderer.Edit(ctx, e.ChatID, e.MessageID, text, nil); err != nil {
		return err
	}
	if err := r.refreshPoll(ctx, id, 0); err != nil {
		r.logger.Error("Failed to refresh poll %d: %v", id, err)
	}
	return r.answer(ctx, e, "✅ Finalized")
}

func (r *Router) handleClose(ctx context.Context, e Event) error {
	id, err := parsePollID(e.Args)
	if err != nil {
		return err
	}
	if _, err := r.polls.Close(ctx, id, e.UserID); err != nil {
		return err
	}
	if err := r.refreshPoll(ctx, id, 0); err != nil {
		r.logger.Error("Failed to refresh poll %d: %v", id, err)
	}
	return r.send(ctx, e.ChatID, fmt.Sprintf("🔒 Poll #%d closed.", id))
}

func (r *Router) handleDelete(ctx context.Context, e Event) error {
	id, err := parsePollID(e.Args)
	if err != nil {
		return err
	}
	p, err := r.polls.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.CreatorID != e.UserID {
		return poll.ErrNotCreator
	}
	text := fmt.Sprintf("🗑 Delete poll #%d <b>%s</b> with its votes and reminders?", p.ID, html.EscapeString(p.Title))
	_, err = r.renderer.Send(ctx, e.ChatID, text, confirmKeyboard("🗑 Delete", fmt.Sprintf("dy:%d", id), "Keep", "dn"))
	return err
}

func (r *Router) onDeleteConfirm(ctx context.Context, e Event, arg string) error {
	id, err := parsePollID(arg)
	if err != nil {
		return err
	}
	p, err := r.polls.Delete(ctx, id, e.UserID)
	if err != nil {
		return err
	}
	if n := r.reminders.CancelPoll(id); n > 0 {
		r.logger.Info("Cancelled %d reminders of deleted poll %d", n, id)
	}
	if chatID, msgID, ok := SplitRef(p.MessageRef); ok {
		if err := r.renderer.Delete(ctx, chatID, msgID); err != nil {
			r.logger.Warn("Failed to delete message of poll %d: %v", id, err)
		}
	}
	if err := r.renderer.Edit(ctx, e.ChatID, e.MessageID, fmt.Sprintf("🗑 Poll #%d deleted.", id), nil); err != nil {
		return err
	}
	return r.answer(ctx, e, "")
}
