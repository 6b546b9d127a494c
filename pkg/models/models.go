package models

import (
	"time"
)

// PollKind tells how a poll's options were generated
type PollKind string

const (
	// KindRanged polls come from a date range and explicit times
	KindRanged PollKind = "ranged"
	// KindCalendar polls come from calendar dates and day slots
	KindCalendar PollKind = "calendar"
)

// ReminderStatus is the lifecycle state of a scheduled reminder
type ReminderStatus string

const (
	ReminderPending ReminderStatus = "pending"
	ReminderSent    ReminderStatus = "sent"
	ReminderSkipped ReminderStatus = "skipped"
)

// Poll represents a meeting-time poll
type Poll struct {
	ID           int64            `json:"id"`
	MessageRef   string           `json:"message_ref"`
	ChannelID    string           `json:"channel_id"`
	GuildID      string           `json:"guild_id"`
	CreatorID    string           `json:"creator_id"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	Kind         PollKind         `json:"kind"`
	Options      []string         `json:"options"`
	VoteSnapshot map[int][]string `json:"vote_snapshot,omitempty"` // option index -> voter ids
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	Active       bool             `json:"active"`
}

// Expired reports whether the poll's deadline has passed at now
func (p *Poll) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Vote represents one voter's choice of one option
type Vote struct {
	ID          int64     `json:"id"`
	PollID      int64     `json:"poll_id"`
	VoterID     string    `json:"voter_id"`
	OptionIndex int       `json:"option_index"`
	VotedAt     time.Time `json:"voted_at"`
}

// Reminder represents a durable notification job for a poll's voters
type Reminder struct {
	ID        int64          `json:"id"`
	GuildID   string         `json:"guild_id"`
	ChannelID string         `json:"channel_id"`
	PollID    int64          `json:"poll_id"`
	Message   string         `json:"message,omitempty"`
	FireAt    time.Time      `json:"fire_at"`
	CreatedBy string         `json:"created_by"`
	Status    ReminderStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
}

// Statistics summarizes poll activity in a chat over a period
type Statistics struct {
	GuildID      string           `json:"guild_id"`
	Period       string           `json:"period"`
	PollsByKind  map[PollKind]int `json:"polls_by_kind"`
	VotesByKind  map[PollKind]int `json:"votes_by_kind"`
	TotalPolls   int              `json:"total_polls"`
	TotalVotes   int              `json:"total_votes"`
	TopPollID    int64            `json:"top_poll_id,omitempty"`
	TopPollTitle string           `json:"top_poll_title,omitempty"`
	TopPollVotes int              `json:"top_poll_votes,omitempty"`
}
