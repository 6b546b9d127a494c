package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/korjavin/whenwemeet/pkg/clock"
	"github.com/korjavin/whenwemeet/pkg/logger"
	"github.com/korjavin/whenwemeet/pkg/models"
	"github.com/korjavin/whenwemeet/pkg/storage"
)

var (
	ErrPollNotFound     = errors.New("poll not found")
	ErrPollExpired      = errors.New("poll has expired")
	ErrPollClosed       = errors.New("poll is closed")
	ErrOptionOutOfRange = errors.New("option index out of range")
	ErrEmptySelection   = errors.New("no options selected")
	ErrNotCreator       = errors.New("only the poll creator can do this")
	ErrNoOptions        = errors.New("poll needs at least one option")
)

// Action is the effect of a toggle
type Action string

const (
	ActionCast      Action = "cast"
	ActionWithdrawn Action = "withdrawn"
)

// NewPoll carries everything needed to create a poll row
type NewPoll struct {
	MessageRef  string
	ChannelID   string
	GuildID     string
	CreatorID   string
	Title       string
	Description string
	Kind        models.PollKind
	Options     []string
	ExpiresAt   *time.Time
}

// Service provides poll and vote management functionality
type Service struct {
	store  storage.Store
	clock  clock.Clock
	locks  *pollLocks
	logger *logger.Logger
}

// New creates a new poll service
func New(store storage.Store, clk clock.Clock) *Service {
	return &Service{
		store:  store,
		clock:  clk,
		locks:  newPollLocks(),
		logger: logger.New("poll"),
	}
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrPollNotFound
	}
	return err
}

// Create stores a new active poll
func (s *Service) Create(ctx context.Context, np NewPoll) (*models.Poll, error) {
	if len(np.Options) == 0 {
		return nil, ErrNoOptions
	}
	p := &models.Poll{
		MessageRef:   np.MessageRef,
		ChannelID:    np.ChannelID,
		GuildID:      np.GuildID,
		CreatorID:    np.CreatorID,
		Title:        np.Title,
		Description:  np.Description,
		Kind:         np.Kind,
		Options:      append([]string(nil), np.Options...),
		VoteSnapshot: Snapshot(make(Tally, len(np.Options))),
		CreatedAt:    s.clock.Now(),
		ExpiresAt:    np.ExpiresAt,
		Active:       true,
	}
	if _, err := s.store.CreatePoll(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("Created poll %d %q with %d options in %s", p.ID, p.Title, len(p.Options), p.GuildID)
	return p, nil
}

// Get retrieves a poll by id
func (s *Service) Get(ctx context.Context, pollID int64) (*models.Poll, error) {
	p, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// GetByMessage resolves the active poll rendered as ref
func (s *Service) GetByMessage(ctx context.Context, ref string) (*models.Poll, error) {
	p, err := s.store.GetPollByMessage(ctx, ref)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// AttachMessage records where a poll is rendered
func (s *Service) AttachMessage(ctx context.Context, pollID int64, ref string) error {
	return notFound(s.store.SetPollMessage(ctx, pollID, ref))
}

// ActivePolls lists a guild's open polls, newest first
func (s *Service) ActivePolls(ctx context.Context, guildID string) ([]*models.Poll, error) {
	return s.store.ListActivePolls(ctx, guildID)
}

// votable loads a poll and checks it accepts votes at now
func (s *Service) votable(ctx context.Context, pollID int64) (*models.Poll, error) {
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrPollClosed
	}
	if p.Expired(s.clock.Now()) {
		return nil, ErrPollExpired
	}
	return p, nil
}

func checkIndex(p *models.Poll, index int) error {
	if index < 0 || index >= len(p.Options) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOptionOutOfRange, index, len(p.Options))
	}
	return nil
}

// ToggleVote casts the vote if absent and withdraws it if present
func (s *Service) ToggleVote(ctx context.Context, pollID int64, voterID string, index int) (Action, error) {
	unlock := s.locks.lock(pollID)
	defer unlock()

	p, err := s.votable(ctx, pollID)
	if err != nil {
		return "", err
	}
	if err := checkIndex(p, index); err != nil {
		return "", err
	}

	cast, err := s.store.ToggleVote(ctx, pollID, voterID, index, s.clock.Now())
	if err != nil {
		return "", fmt.Errorf("failed to toggle vote: %w", notFound(err))
	}
	action := ActionWithdrawn
	if cast {
		action = ActionCast
	}
	s.logger.Debug("Vote %s: poll %d option %d by %s", action, pollID, index, voterID)

	s.writeSnapshot(ctx, p)
	return action, nil
}

// ReplaceVotes swaps all of a voter's choices for indices
func (s *Service) ReplaceVotes(ctx context.Context, pollID int64, voterID string, indices []int) error {
	if len(indices) == 0 {
		return ErrEmptySelection
	}

	unlock := s.locks.lock(pollID)
	defer unlock()

	p, err := s.votable(ctx, pollID)
	if err != nil {
		return err
	}
	for _, idx := range indices {
		if err := checkIndex(p, idx); err != nil {
			return err
		}
	}

	if err := s.store.ReplaceVotes(ctx, pollID, voterID, indices, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to replace votes: %w", notFound(err))
	}
	s.logger.Debug("Ballot submitted: poll %d by %s: %v", pollID, voterID, indices)

	s.writeSnapshot(ctx, p)
	return nil
}

// writeSnapshot refreshes the advisory snapshot; failures are only logged
// because the ledger rows are authoritative
func (s *Service) writeSnapshot(ctx context.Context, p *models.Poll) {
	votes, err := s.store.ListVotes(ctx, p.ID)
	if err != nil {
		s.logger.Warn("Failed to load votes for snapshot of poll %d: %v", p.ID, err)
		return
	}
	t := tallyFrom(len(p.Options), votes)
	if err := s.store.UpdateVoteSnapshot(ctx, p.ID, Snapshot(t)); err != nil {
		s.logger.Warn("Failed to write snapshot of poll %d: %v", p.ID, err)
	}
}

// Tally aggregates the ledger for a poll
func (s *Service) Tally(ctx context.Context, pollID int64) (Tally, error) {
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	votes, err := s.store.ListVotes(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return tallyFrom(len(p.Options), votes), nil
}

// RebuildSnapshot recomputes the snapshot from the ledger and stores it
func (s *Service) RebuildSnapshot(ctx context.Context, pollID int64) (Tally, error) {
	unlock := s.locks.lock(pollID)
	defer unlock()

	t, err := s.Tally(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateVoteSnapshot(ctx, pollID, Snapshot(t)); err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// VotersAt lists the voters of one option in vote order
func (s *Service) VotersAt(ctx context.Context, pollID int64, index int) ([]string, error) {
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := checkIndex(p, index); err != nil {
		return nil, err
	}
	votes, err := s.store.ListVotes(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return tallyFrom(len(p.Options), votes)[index], nil
}

func (s *Service) ownedPoll(ctx context.Context, pollID int64, actor string) (*models.Poll, error) {
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if p.CreatorID != actor {
		return nil, ErrNotCreator
	}
	return p, nil
}

// Close ends voting on a poll and returns the final tally
func (s *Service) Close(ctx context.Context, pollID int64, actor string) (Tally, error) {
	unlock := s.locks.lock(pollID)
	defer unlock()

	if _, err := s.ownedPoll(ctx, pollID, actor); err != nil {
		return nil, err
	}
	if err := s.store.SetPollActive(ctx, pollID, false); err != nil {
		return nil, notFound(err)
	}
	s.logger.Info("Poll %d closed by %s", pollID, actor)
	return s.Tally(ctx, pollID)
}

// Delete removes a poll with its votes and reminders
func (s *Service) Delete(ctx context.Context, pollID int64, actor string) (*models.Poll, error) {
	unlock := s.locks.lock(pollID)
	defer unlock()

	p, err := s.ownedPoll(ctx, pollID, actor)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeletePoll(ctx, pollID); err != nil {
		return nil, notFound(err)
	}
	s.logger.Info("Poll %d deleted by %s", pollID, actor)
	return p, nil
}
