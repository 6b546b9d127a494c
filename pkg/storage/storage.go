package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/korjavin/whenwemeet/pkg/models"
)

var (
	// ErrNotFound is returned when a poll, vote or reminder row does not exist
	ErrNotFound = errors.New("not found")
	// ErrNotPending is returned by MarkReminder when the row already left pending
	ErrNotPending = errors.New("reminder is not pending")
)

// Store is the persistence contract shared by every backend
type Store interface {
	// CreatePoll inserts p, assigns p.ID and returns it
	CreatePoll(ctx context.Context, p *models.Poll) (int64, error)
	GetPoll(ctx context.Context, id int64) (*models.Poll, error)
	// GetPollByMessage resolves an active poll from its rendered message
	GetPollByMessage(ctx context.Context, ref string) (*models.Poll, error)
	SetPollMessage(ctx context.Context, id int64, ref string) error
	// ListActivePolls returns active polls of a guild, newest first
	ListActivePolls(ctx context.Context, guildID string) ([]*models.Poll, error)
	// ListPolls returns every poll of a guild, newest first
	ListPolls(ctx context.Context, guildID string) ([]*models.Poll, error)
	SetPollActive(ctx context.Context, id int64, active bool) error
	UpdateVoteSnapshot(ctx context.Context, id int64, snapshot map[int][]string) error
	// DeletePoll removes the poll together with its votes and reminders
	DeletePoll(ctx context.Context, id int64) error

	// ToggleVote inserts the vote row if absent and removes it if present.
	// It reports true when the vote was cast
	ToggleVote(ctx context.Context, pollID int64, voterID string, index int, at time.Time) (bool, error)
	// ReplaceVotes swaps all of a voter's rows for the given indices atomically
	ReplaceVotes(ctx context.Context, pollID int64, voterID string, indices []int, at time.Time) error
	// ListVotes returns a poll's votes ordered by vote time, then row id
	ListVotes(ctx context.Context, pollID int64) ([]models.Vote, error)

	// CreateReminder inserts r as pending, assigns r.ID and returns it
	CreateReminder(ctx context.Context, r *models.Reminder) (int64, error)
	GetReminder(ctx context.Context, id int64) (*models.Reminder, error)
	// ListPendingReminders returns pending rows ordered by fire time, then id
	ListPendingReminders(ctx context.Context) ([]*models.Reminder, error)
	ListRemindersByGuild(ctx context.Context, guildID string) ([]*models.Reminder, error)
	// MarkReminder moves a pending row to status. Any other current status
	// yields ErrNotPending
	MarkReminder(ctx context.Context, id int64, status models.ReminderStatus, at time.Time) error
	DeleteReminder(ctx context.Context, id int64) error

	Close() error
}

// Driver names accepted by Open
const (
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates the backend selected by driver. dataDir is used by the
// embedded backends, dsn by the SQL ones; an empty sqlite dsn places the
// database file under dataDir
func Open(ctx context.Context, driver, dataDir, dsn string) (Store, error) {
	switch driver {
	case "", DriverBadger:
		return NewBadger(filepath.Join(dataDir, "badger"))
	case DriverSQLite:
		if dsn == "" {
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
			dsn = filepath.Join(dataDir, "whenwemeet.db")
		}
		return NewSQL(ctx, DriverSQLite, dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage requires DATABASE_URL")
		}
		return NewSQL(ctx, DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// validStatus reports whether s is a terminal reminder status
func validStatus(s models.ReminderStatus) bool {
	return s == models.ReminderSent || s == models.ReminderSkipped
}

// distinctIndices drops duplicates while keeping first-seen order
func distinctIndices(indices []int) []int {
	seen := make(map[int]bool, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}
