package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/korjavin/whenwemeet/pkg/logger"
	"github.com/korjavin/whenwemeet/pkg/models"
	"github.com/korjavin/whenwemeet/pkg/storage"
)

// Periods accepted by Compute
const (
	PeriodToday = "today"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodAll   = "all"
)

// Service provides statistics functionality
type Service struct {
	store  storage.Store
	loc    *time.Location
	logger *logger.Logger
}

// New creates a new statistics service. Period boundaries are taken in loc
func New(store storage.Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:  store,
		loc:    loc,
		logger: logger.New("stats"),
	}
}

// NormalizePeriod maps user input to a known period, defaulting to a week
func NormalizePeriod(p string) string {
	switch p = strings.ToLower(strings.TrimSpace(p)); p {
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodAll:
		return p
	}
	return PeriodWeek
}

// periodStart returns the first instant of the period containing now. The
// zero time means no lower bound
func periodStart(period string, now time.Time) time.Time {
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch period {
	case PeriodToday:
		return day
	case PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	case PeriodAll:
		return time.Time{}
	}
	// weeks start on Sunday
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// Compute summarizes the active polls of a guild created within the period
func (s *Service) Compute(ctx context.Context, guildID, period string, now time.Time) (*models.Statistics, error) {
	period = NormalizePeriod(period)
	start := periodStart(period, now.In(s.loc))

	polls, err := s.store.ListActivePolls(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}

	st := &models.Statistics{
		GuildID:     guildID,
		Period:      period,
		PollsByKind: make(map[models.PollKind]int),
		VotesByKind: make(map[models.PollKind]int),
	}
	for _, p := range polls {
		if !start.IsZero() && p.CreatedAt.Before(start) {
			continue
		}
		votes, err := s.store.ListVotes(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list votes of poll %d: %w", p.ID, err)
		}

		st.TotalPolls++
		st.TotalVotes += len(votes)
		st.PollsByKind[p.Kind]++
		st.VotesByKind[p.Kind] += len(votes)
		if len(votes) > st.TopPollVotes {
			st.TopPollID = p.ID
			st.TopPollTitle = p.Title
			st.TopPollVotes = len(votes)
		}
	}

	s.logger.Debug("Computed %s statistics for %s: %d polls, %d votes", period, guildID, st.TotalPolls, st.TotalVotes)
	return st, nil
}
