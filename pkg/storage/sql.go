package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/korjavin/whenwemeet/pkg/logger"
	"github.com/korjavin/whenwemeet/pkg/models"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQL is a database/sql backed store for SQLite and PostgreSQL
type SQL struct {
	db      *sql.DB
	dialect string
	logger  *logger.Logger
}

// NewSQL opens dsn with the given dialect and creates the schema
func NewSQL(ctx context.Context, dialect, dsn string) (*SQL, error) {
	var schema []string
	switch dialect {
	case DriverSQLite:
		schema = sqliteSchema
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == DriverSQLite {
		// A single connection serializes writers and keeps :memory: databases alive
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	s := &SQL{db: db, dialect: dialect, logger: logger.New("storage")}
	s.logger.Info("%s database ready", dialect)
	return s, nil
}

// Close closes the connection pool
func (s *SQL) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for PostgreSQL
func (s *SQL) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQL) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

const pollColumns = `id, message_ref, channel_id, guild_id, creator_id, title, description,
	kind, options, vote_snapshot, created_at, expires_at, active`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPoll(row rowScanner) (*models.Poll, error) {
	var (
		p         models.Poll
		ref       sql.NullString
		kind      string
		options   string
		snapshot  string
		createdAt int64
		expiresAt sql.NullInt64
		active    int
	)
	err := row.Scan(&p.ID, &ref, &p.ChannelID, &p.GuildID, &p.CreatorID, &p.Title, &p.Description,
		&kind, &options, &snapshot, &createdAt, &expiresAt, &active)
	if err != nil {
		return nil, err
	}
	p.MessageRef = ref.String
	p.Kind = models.PollKind(kind)
	if err := json.Unmarshal([]byte(options), &p.Options); err != nil {
		return nil, fmt.Errorf("failed to decode options of poll %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(snapshot), &p.VoteSnapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot of poll %d: %w", p.ID, err)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.ExpiresAt = timePtr(expiresAt)
	p.Active = active != 0
	return &p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreatePoll inserts a poll row
func (s *SQL) CreatePoll(ctx context.Context, p *models.Poll) (int64, error) {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal options: %w", err)
	}
	snapshot, err := json.Marshal(p.VoteSnapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if p.VoteSnapshot == nil {
		snapshot = []byte("{}")
	}

	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO polls (message_ref, channel_id, guild_id, creator_id, title, description,
			kind, options, vote_snapshot, created_at, expires_at, active)
		VALUES (NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		p.MessageRef, p.ChannelID, p.GuildID, p.CreatorID, p.Title, p.Description,
		string(p.Kind), string(options), string(snapshot), millis(p.CreatedAt), nullMillis(p.ExpiresAt), boolInt(p.Active),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create poll: %w", err)
	}
	p.ID = id
	return id, nil
}

// GetPoll retrieves a poll by id
func (s *SQL) GetPoll(ctx context.Context, id int64) (*models.Poll, error) {
	return s.getPoll(ctx, s.db, id)
}

func (s *SQL) getPoll(ctx context.Context, q queryer, id int64) (*models.Poll, error) {
	p, err := scanPoll(q.QueryRowContext(ctx, s.rebind(`SELECT `+pollColumns+` FROM polls WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll %d: %w", id, err)
	}
	return p, nil
}

// GetPollByMessage retrieves the active poll rendered as ref
func (s *SQL) GetPollByMessage(ctx context.Context, ref string) (*models.Poll, error) {
	p, err := scanPoll(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+pollColumns+` FROM polls WHERE message_ref = ? AND active = 1`), ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll by message %s: %w", ref, err)
	}
	return p, nil
}

func (s *SQL) execOne(ctx context.Context, q queryer, query string, args ...interface{}) error {
	res, err := q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPollMessage points a poll at its rendered message
func (s *SQL) SetPollMessage(ctx context.Context, id int64, ref string) error {
	return s.execOne(ctx, s.db, `UPDATE polls SET message_ref = NULLIF(?, '') WHERE id = ?`, ref, id)
}

func (s *SQL) listPolls(ctx context.Context, query string, args ...interface{}) ([]*models.Poll, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}
	defer rows.Close()

	var polls []*models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

// ListActivePolls lists a guild's active polls
func (s *SQL) ListActivePolls(ctx context.Context, guildID string) ([]*models.Poll, error) {
	return s.listPolls(ctx, `SELECT `+pollColumns+` FROM polls WHERE guild_id = ? AND active = 1 ORDER BY id DESC`, guildID)
}

// ListPolls lists all of a guild's polls
func (s *SQL) ListPolls(ctx context.Context, guildID string) ([]*models.Poll, error) {
	return s.listPolls(ctx, `SELECT `+pollColumns+` FROM polls WHERE guild_id = ? ORDER BY id DESC`, guildID)
}

// SetPollActive opens or closes a poll
func (s *SQL) SetPollActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, s.db, `UPDATE polls SET active = ? WHERE id = ?`, boolInt(active), id)
}

// UpdateVoteSnapshot stores the advisory tally snapshot on the poll
func (s *SQL) UpdateVoteSnapshot(ctx context.Context, id int64, snapshot map[int][]string) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.execOne(ctx, s.db, `UPDATE polls SET vote_snapshot = ? WHERE id = ?`, string(data), id)
}

// DeletePoll removes a poll with its votes and reminders
func (s *SQL) DeletePoll(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM votes WHERE poll_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete votes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM scheduled_reminders WHERE poll_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete reminders: %w", err)
		}
		return s.execOne(ctx, tx, `DELETE FROM polls WHERE id = ?`, id)
	})
}

func (s *SQL) pollExists(ctx context.Context, q queryer, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM polls WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ToggleVote flips one (poll, voter, option) row
func (s *SQL) ToggleVote(ctx context.Context, pollID int64, voterID string, index int, at time.Time) (bool, error) {
	var cast bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.pollExists(ctx, tx, pollID); err != nil {
			return err
		}
		err := s.execOne(ctx, tx, `DELETE FROM votes WHERE poll_id = ? AND voter_id = ? AND option_index = ?`,
			pollID, voterID, index)
		if err == nil {
			cast = false
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to withdraw vote: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO votes (poll_id, voter_id, option_index, voted_at) VALUES (?, ?, ?, ?)`),
			pollID, voterID, index, millis(at))
		if err != nil {
			return fmt.Errorf("failed to cast vote: %w", err)
		}
		cast = true
		return nil
	})
	return cast, err
}

// ReplaceVotes swaps a voter's selection in one transaction
func (s *SQL) ReplaceVotes(ctx context.Context, pollID int64, voterID string, indices []int, at time.Time) error {
	indices = distinctIndices(indices)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.pollExists(ctx, tx, pollID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM votes WHERE poll_id = ? AND voter_id = ?`),
			pollID, voterID); err != nil {
			return fmt.Errorf("failed to clear votes: %w", err)
		}
		for _, idx := range indices {
			if _, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO votes (poll_id, voter_id, option_index, voted_at) VALUES (?, ?, ?, ?)`),
				pollID, voterID, idx, millis(at)); err != nil {
				return fmt.Errorf("failed to insert vote: %w", err)
			}
		}
		return nil
	})
}

// ListVotes lists a poll's votes by vote time, then id
func (s *SQL) ListVotes(ctx context.Context, pollID int64) ([]models.Vote, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, poll_id, voter_id, option_index, voted_at FROM votes
		WHERE poll_id = ? ORDER BY voted_at, id`), pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var votes []models.Vote
	for rows.Next() {
		var v models.Vote
		var votedAt int64
		if err := rows.Scan(&v.ID, &v.PollID, &v.VoterID, &v.OptionIndex, &votedAt); err != nil {
			return nil, err
		}
		v.VotedAt = fromMillis(votedAt)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

const reminderColumns = `id, guild_id, channel_id, poll_id, message, fire_at, created_by, status, created_at, sent_at`

func scanReminder(row rowScanner) (*models.Reminder, error) {
	var (
		r         models.Reminder
		status    string
		fireAt    int64
		createdAt int64
		sentAt    sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.GuildID, &r.ChannelID, &r.PollID, &r.Message, &fireAt, &r.CreatedBy,
		&status, &createdAt, &sentAt)
	if err != nil {
		return nil, err
	}
	r.Status = models.ReminderStatus(status)
	r.FireAt = fromMillis(fireAt)
	r.CreatedAt = fromMillis(createdAt)
	r.SentAt = timePtr(sentAt)
	return &r, nil
}

// CreateReminder inserts a pending reminder row
func (s *SQL) CreateReminder(ctx context.Context, r *models.Reminder) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO scheduled_reminders (guild_id, channel_id, poll_id, message, fire_at, created_by, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		r.GuildID, r.ChannelID, r.PollID, r.Message, millis(r.FireAt), r.CreatedBy,
		string(models.ReminderPending), millis(r.CreatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create reminder: %w", err)
	}
	r.ID = id
	r.Status = models.ReminderPending
	r.SentAt = nil
	return id, nil
}

// GetReminder retrieves a reminder by id
func (s *SQL) GetReminder(ctx context.Context, id int64) (*models.Reminder, error) {
	r, err := scanReminder(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+reminderColumns+` FROM scheduled_reminders WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder %d: %w", id, err)
	}
	return r, nil
}

func (s *SQL) listReminders(ctx context.Context, query string, args ...interface{}) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPendingReminders lists every pending reminder
func (s *SQL) ListPendingReminders(ctx context.Context) ([]*models.Reminder, error) {
	return s.listReminders(ctx, `SELECT `+reminderColumns+` FROM scheduled_reminders
		WHERE status = ? ORDER BY fire_at, id`, string(models.ReminderPending))
}

// ListRemindersByGuild lists a guild's reminders in any status
func (s *SQL) ListRemindersByGuild(ctx context.Context, guildID string) ([]*models.Reminder, error) {
	return s.listReminders(ctx, `SELECT `+reminderColumns+` FROM scheduled_reminders
		WHERE guild_id = ? ORDER BY fire_at, id`, guildID)
}

// MarkReminder resolves a pending reminder
func (s *SQL) MarkReminder(ctx context.Context, id int64, status models.ReminderStatus, at time.Time) error {
	if !validStatus(status) {
		return fmt.Errorf("invalid reminder status %q", status)
	}
	var sentAt sql.NullInt64
	if status == models.ReminderSent {
		sentAt = sql.NullInt64{Int64: millis(at), Valid: true}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		err := s.execOne(ctx, tx, `UPDATE scheduled_reminders SET status = ?, sent_at = ?
			WHERE id = ? AND status = ?`, string(status), sentAt, id, string(models.ReminderPending))
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		var current string
		err = tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM scheduled_reminders WHERE id = ?`), id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrNotPending
	})
}

// DeleteReminder removes a reminder row
func (s *SQL) DeleteReminder(ctx context.Context, id int64) error {
	return s.execOne(ctx, s.db, `DELETE FROM scheduled_reminders WHERE id = ?`, id)
}
