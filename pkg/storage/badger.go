package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/korjavin/whenwemeet/pkg/logger"
	"github.com/korjavin/whenwemeet/pkg/models"
)

const (
	pollPrefix     = "poll:"
	pollMsgPrefix  = "pollmsg:"
	votePrefix     = "vote:"
	reminderPrefix = "reminder:"

	sequenceBandwidth  = 100
	maxConflictRetries = 5
)

// Badger represents a BadgerDB storage instance
type Badger struct {
	db          *badger.DB
	pollSeq     *badger.Sequence
	voteSeq     *badger.Sequence
	reminderSeq *badger.Sequence
	logger      *logger.Logger
	stopGC      chan struct{}
}

// NewBadger opens a BadgerDB storage instance under dataDir
func NewBadger(dataDir string) (*Badger, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	opts := badger.DefaultOptions(absPath)
	opts.Logger = nil // Disable Badger's internal logger

	s, err := openBadger(opts)
	if err != nil {
		return nil, err
	}
	s.logger.Info("BadgerDB opened at %s", absPath)
	return s, nil
}

// NewBadgerInMemory opens a BadgerDB instance that never touches disk
func NewBadgerInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*Badger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	s := &Badger{db: db, logger: logger.New("storage"), stopGC: make(chan struct{})}
	for key, dst := range map[string]**badger.Sequence{
		"seq:poll":     &s.pollSeq,
		"seq:vote":     &s.voteSeq,
		"seq:reminder": &s.reminderSeq,
	} {
		seq, err := db.GetSequence([]byte(key), sequenceBandwidth)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open sequence %s: %w", key, err)
		}
		*dst = seq
	}
	return s, nil
}

// Close releases the id sequences and closes the database
func (s *Badger) Close() error {
	select {
	case <-s.stopGC:
	default:
		close(s.stopGC)
	}
	for _, seq := range []*badger.Sequence{s.pollSeq, s.voteSeq, s.reminderSeq} {
		if seq != nil {
			if err := seq.Release(); err != nil {
				s.logger.Warn("Failed to release sequence: %v", err)
			}
		}
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunGC runs garbage collection on the value log
func (s *Badger) RunGC() error {
	return s.db.RunValueLogGC(0.5)
}

// StartGCRoutine starts a goroutine that periodically runs garbage collection
func (s *Badger) StartGCRoutine(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				err := s.RunGC()
				// Only log when GC actually failed
				if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					s.logger.Error("BadgerDB GC error: %v", err)
				}
			case <-s.stopGC:
				return
			}
		}
	}()
	s.logger.Info("Started BadgerDB GC routine with interval %v", interval)
}

func pollKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", pollPrefix, id))
}

func pollMsgKey(ref string) []byte {
	return []byte(pollMsgPrefix + ref)
}

func pollVotesPrefix(pollID int64) string {
	return fmt.Sprintf("%s%020d:", votePrefix, pollID)
}

func voterVotesPrefix(pollID int64, voterID string) string {
	return pollVotesPrefix(pollID) + voterID + ":"
}

func voteKey(pollID int64, voterID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%06d", voterVotesPrefix(pollID, voterID), index))
}

func reminderKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", reminderPrefix, id))
}

// update runs fn in a read-write transaction, retrying on SSI conflicts
func (s *Badger) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			s.logger.Debug("Transaction conflict, retrying (attempt %d)", attempt+1)
			continue
		}
		return err
	}
}

func (s *Badger) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func (s *Badger) nextID(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate id: %w", err)
	}
	// Sequences start at zero; ids start at one
	return int64(n) + 1, nil
}

func getJSON(txn *badger.Txn, key []byte, value interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, value)
	})
}

func setJSON(txn *badger.Txn, key []byte, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return txn.Set(key, data)
}

// scan calls fn for every key under prefix. Keys are visited in order
func scan(txn *badger.Txn, prefix string, fn func(key, val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefixBytes := []byte(prefix)
	for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

// keysWithPrefix collects keys without values
func keysWithPrefix(txn *badger.Txn, prefix string) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	prefixBytes := []byte(prefix)
	for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// CreatePoll stores a new poll and its message mapping
func (s *Badger) CreatePoll(ctx context.Context, p *models.Poll) (int64, error) {
	id, err := s.nextID(s.pollSeq)
	if err != nil {
		return 0, err
	}
	p.ID = id
	err = s.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, pollKey(id), p); err != nil {
			return err
		}
		if p.MessageRef != "" {
			return txn.Set(pollMsgKey(p.MessageRef), []byte(strconv.FormatInt(id, 10)))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create poll: %w", err)
	}
	return id, nil
}

// GetPoll retrieves a poll by id
func (s *Badger) GetPoll(ctx context.Context, id int64) (*models.Poll, error) {
	var p models.Poll
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, pollKey(id), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPollByMessage retrieves the active poll rendered as ref
func (s *Badger) GetPollByMessage(ctx context.Context, ref string) (*models.Poll, error) {
	var p models.Poll
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(pollMsgKey(ref))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt message mapping for %s: %w", ref, err)
		}
		return getJSON(txn, pollKey(id), &p)
	})
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrNotFound
	}
	return &p, nil
}

// SetPollMessage points a poll at its rendered message
func (s *Badger) SetPollMessage(ctx context.Context, id int64, ref string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var p models.Poll
		if err := getJSON(txn, pollKey(id), &p); err != nil {
			return err
		}
		if p.MessageRef != "" && p.MessageRef != ref {
			if err := txn.Delete(pollMsgKey(p.MessageRef)); err != nil {
				return err
			}
		}
		p.MessageRef = ref
		if err := setJSON(txn, pollKey(id), &p); err != nil {
			return err
		}
		return txn.Set(pollMsgKey(ref), []byte(strconv.FormatInt(id, 10)))
	})
}

func (s *Badger) listPolls(ctx context.Context, keep func(*models.Poll) bool) ([]*models.Poll, error) {
	var polls []*models.Poll
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, pollPrefix, func(_, val []byte) error {
			var p models.Poll
			if err := json.Unmarshal(val, &p); err != nil {
				return err
			}
			if keep(&p) {
				polls = append(polls, &p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}
	sort.Slice(polls, func(i, j int) bool { return polls[i].ID > polls[j].ID })
	return polls, nil
}

// ListActivePolls lists a guild's active polls
func (s *Badger) ListActivePolls(ctx context.Context, guildID string) ([]*models.Poll, error) {
	return s.listPolls(ctx, func(p *models.Poll) bool {
		return p.Active && p.GuildID == guildID
	})
}

// ListPolls lists all of a guild's polls
func (s *Badger) ListPolls(ctx context.Context, guildID string) ([]*models.Poll, error) {
	return s.listPolls(ctx, func(p *models.Poll) bool {
		return p.GuildID == guildID
	})
}

func (s *Badger) modifyPoll(ctx context.Context, id int64, fn func(*models.Poll)) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var p models.Poll
		if err := getJSON(txn, pollKey(id), &p); err != nil {
			return err
		}
		fn(&p)
		return setJSON(txn, pollKey(id), &p)
	})
}

// SetPollActive opens or closes a poll
func (s *Badger) SetPollActive(ctx context.Context, id int64, active bool) error {
	return s.modifyPoll(ctx, id, func(p *models.Poll) { p.Active = active })
}

// UpdateVoteSnapshot stores the advisory tally snapshot on the poll
func (s *Badger) UpdateVoteSnapshot(ctx context.Context, id int64, snapshot map[int][]string) error {
	return s.modifyPoll(ctx, id, func(p *models.Poll) { p.VoteSnapshot = snapshot })
}

// DeletePoll removes a poll, its votes, its message mapping and its reminders
func (s *Badger) DeletePoll(ctx context.Context, id int64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var p models.Poll
		if err := getJSON(txn, pollKey(id), &p); err != nil {
			return err
		}

		doomed := keysWithPrefix(txn, pollVotesPrefix(id))
		err := scan(txn, reminderPrefix, func(key, val []byte) error {
			var r models.Reminder
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			if r.PollID == id {
				doomed = append(doomed, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if p.MessageRef != "" {
			doomed = append(doomed, pollMsgKey(p.MessageRef))
		}
		doomed = append(doomed, pollKey(id))

		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// ToggleVote flips one (poll, voter, option) row
func (s *Badger) ToggleVote(ctx context.Context, pollID int64, voterID string, index int, at time.Time) (bool, error) {
	voteID, err := s.nextID(s.voteSeq)
	if err != nil {
		return false, err
	}

	var cast bool
	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(pollKey(pollID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}

		key := voteKey(pollID, voterID, index)
		_, err := txn.Get(key)
		switch {
		case err == nil:
			cast = false
			return txn.Delete(key)
		case errors.Is(err, badger.ErrKeyNotFound):
			cast = true
			return setJSON(txn, key, models.Vote{
				ID:          voteID,
				PollID:      pollID,
				VoterID:     voterID,
				OptionIndex: index,
				VotedAt:     at,
			})
		default:
			return err
		}
	})
	if err != nil {
		return false, err
	}
	return cast, nil
}

// ReplaceVotes swaps a voter's selection in one transaction
func (s *Badger) ReplaceVotes(ctx context.Context, pollID int64, voterID string, indices []int, at time.Time) error {
	indices = distinctIndices(indices)
	ids := make([]int64, len(indices))
	for i := range indices {
		id, err := s.nextID(s.voteSeq)
		if err != nil {
			return err
		}
		ids[i] = id
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(pollKey(pollID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		for _, key := range keysWithPrefix(txn, voterVotesPrefix(pollID, voterID)) {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for i, idx := range indices {
			err := setJSON(txn, voteKey(pollID, voterID, idx), models.Vote{
				ID:          ids[i],
				PollID:      pollID,
				VoterID:     voterID,
				OptionIndex: idx,
				VotedAt:     at,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ListVotes lists a poll's votes by vote time, then id
func (s *Badger) ListVotes(ctx context.Context, pollID int64) ([]models.Vote, error) {
	var votes []models.Vote
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, pollVotesPrefix(pollID), func(_, val []byte) error {
			var v models.Vote
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			votes = append(votes, v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].VotedAt.Equal(votes[j].VotedAt) {
			return votes[i].ID < votes[j].ID
		}
		return votes[i].VotedAt.Before(votes[j].VotedAt)
	})
	return votes, nil
}

// CreateReminder stores a new pending reminder
func (s *Badger) CreateReminder(ctx context.Context, r *models.Reminder) (int64, error) {
	id, err := s.nextID(s.reminderSeq)
	if err != nil {
		return 0, err
	}
	r.ID = id
	r.Status = models.ReminderPending
	r.SentAt = nil
	err = s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, reminderKey(id), r)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create reminder: %w", err)
	}
	return id, nil
}

// GetReminder retrieves a reminder by id
func (s *Badger) GetReminder(ctx context.Context, id int64) (*models.Reminder, error) {
	var r models.Reminder
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, reminderKey(id), &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Badger) listReminders(ctx context.Context, keep func(*models.Reminder) bool) ([]*models.Reminder, error) {
	var out []*models.Reminder
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, reminderPrefix, func(_, val []byte) error {
			var r models.Reminder
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			if keep(&r) {
				out = append(out, &r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out, nil
}

// ListPendingReminders lists every pending reminder
func (s *Badger) ListPendingReminders(ctx context.Context) ([]*models.Reminder, error) {
	return s.listReminders(ctx, func(r *models.Reminder) bool {
		return r.Status == models.ReminderPending
	})
}

// ListRemindersByGuild lists a guild's reminders in any status
func (s *Badger) ListRemindersByGuild(ctx context.Context, guildID string) ([]*models.Reminder, error) {
	return s.listReminders(ctx, func(r *models.Reminder) bool {
		return r.GuildID == guildID
	})
}

// MarkReminder resolves a pending reminder
func (s *Badger) MarkReminder(ctx context.Context, id int64, status models.ReminderStatus, at time.Time) error {
	if !validStatus(status) {
		return fmt.Errorf("invalid reminder status %q", status)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var r models.Reminder
		if err := getJSON(txn, reminderKey(id), &r); err != nil {
			return err
		}
		if r.Status != models.ReminderPending {
			return ErrNotPending
		}
		r.Status = status
		if status == models.ReminderSent {
			r.SentAt = &at
		}
		return setJSON(txn, reminderKey(id), &r)
	})
}

// DeleteReminder removes a reminder row
func (s *Badger) DeleteReminder(ctx context.Context, id int64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(reminderKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(reminderKey(id))
	})
}
