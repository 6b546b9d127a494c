package messages

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/korjavin/whenwemeet/pkg/candidate"
	"github.com/korjavin/whenwemeet/pkg/poll"
	"github.com/korjavin/whenwemeet/pkg/session"
)

// GenericError is shown for failures the user cannot fix
const GenericError = "😢 Sorry, something went wrong. Please try again later."

// Describe turns an error into text for the user
func Describe(err error) string {
	var invalid *candidate.InvalidInputError
	var tooMany *candidate.TooManyCandidatesError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		if len(invalid.Tokens) == 0 {
			return "❌ " + capitalize(invalid.Reason) + "."
		}
		return fmt.Sprintf("❌ %s: %s", capitalize(invalid.Reason), html.EscapeString(strings.Join(invalid.Tokens, ", ")))
	case errors.As(err, &tooMany):
		return fmt.Sprintf("❌ That would create %d options. A poll can have at most %d; narrow the dates or times.", tooMany.Count, candidate.MaxCandidates)
	case errors.Is(err, candidate.ErrTooManyCandidates):
		return fmt.Sprintf("❌ A poll can have at most %d options.", candidate.MaxCandidates)
	case errors.Is(err, session.ErrIncompleteSelection):
		return "❌ Select at least one date and one time slot first."
	case errors.Is(err, poll.ErrEmptySelection):
		return "❌ Select at least one option before submitting."
	case errors.Is(err, session.ErrSessionNotFound):
		return "⌛ This form has expired. Please start again."
	case errors.Is(err, session.ErrNotOwner):
		return "🚫 This form belongs to someone else."
	case errors.Is(err, session.ErrInvalidTransition):
		return "❌ That button does not apply any more."
	case errors.Is(err, poll.ErrPollNotFound):
		return "❌ Poll not found."
	case errors.Is(err, poll.ErrPollExpired):
		return "⌛ This poll has expired."
	case errors.Is(err, poll.ErrPollClosed):
		return "🔒 This poll is closed."
	case errors.Is(err, poll.ErrOptionOutOfRange):
		return "❌ That option does not exist."
	case errors.Is(err, poll.ErrNotCreator):
		return "🚫 Only the poll creator can do this."
	case errors.Is(err, poll.ErrNoOptions):
		return "❌ A poll needs at least one option."
	}
	return GenericError
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
