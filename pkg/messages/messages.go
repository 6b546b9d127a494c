package messages

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/korjavin/whenwemeet/pkg/logger"
)

// Announcer writes a free-form announcement of the chosen meeting time
type Announcer interface {
	Enabled() bool
	GenerateAnnouncement(ctx context.Context, title string, winners []string) (string, error)
}

// Service provides message generation functionality
type Service struct {
	announcer Announcer
	loc       *time.Location
	logger    *logger.Logger

	mu    sync.RWMutex
	names map[string]string
}

// New creates a new message service. announcer may be nil
func New(announcer Announcer, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		announcer: announcer,
		loc:       loc,
		logger:    logger.New("messages"),
		names:     make(map[string]string),
	}
}

// Location returns the zone every time is rendered in
func (s *Service) Location() *time.Location {
	return s.loc
}

// RememberName records the display name of a user for later mentions
func (s *Service) RememberName(userID, name string) {
	if userID == "" || name == "" {
		return
	}
	s.mu.Lock()
	s.names[userID] = name
	s.mu.Unlock()
}

func (s *Service) name(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.names[userID]; ok {
		return n
	}
	return "user " + userID
}

// Mention links to a user so that the chat notifies them
func (s *Service) Mention(userID string) string {
	return fmt.Sprintf(`<a href="tg://user?id=%s">%s</a>`, html.EscapeString(userID), html.EscapeString(s.name(userID)))
}

// Mentions joins the mentions of every user
func (s *Service) Mentions(userIDs []string) string {
	parts := make([]string, len(userIDs))
	for i, id := range userIDs {
		parts[i] = s.Mention(id)
	}
	return strings.Join(parts, " ")
}

// GenerateAnnouncement announces the winning options of a finalized poll
func (s *Service) GenerateAnnouncement(ctx context.Context, title string, winners []string) string {
	if s.announcer != nil && s.announcer.Enabled() && len(winners) > 0 {
		msg, err := s.announcer.GenerateAnnouncement(ctx, title, winners)
		if err == nil && strings.TrimSpace(msg) != "" {
			return html.EscapeString(msg)
		}
		s.logger.Error("Failed to generate announcement: %v", err)
	}
	return announcementTemplate(title, winners)
}

func announcementTemplate(title string, winners []string) string {
	if len(winners) == 0 {
		return fmt.Sprintf("📅 <b>%s</b>\nNo votes were cast, so no time was chosen.", html.EscapeString(title))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ <b>%s</b> is scheduled!\n", html.EscapeString(title))
	for _, w := range winners {
		b.WriteString("🗓 " + html.EscapeString(w) + "\n")
	}
	b.WriteString("See you there!")
	return b.String()
}
