package interaction

import (
	"context"
	"strings"
)

// Kind tells what a user did
type Kind string

const (
	KindCommand  Kind = "command"
	KindCallback Kind = "callback"
	KindText     Kind = "text"
)

// Event is one user action delivered by the transport
type Event struct {
	Kind Kind
	// CorrelationID identifies the message an action refers to: the message
	// carrying the pressed button, or the prompt a text replies to
	CorrelationID string
	ChatID        string
	MessageID     string
	UserID        string
	UserName      string
	Command       string
	Args          string
	Data          string
	Text          string
	ReplyTo       string
	CallbackID    string
}

// Button is an inline button carrying callback data
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of buttons. A nil keyboard removes existing buttons
type Keyboard [][]Button

// Renderer puts text on the chat platform
type Renderer interface {
	Send(ctx context.Context, chatID, text string, kb Keyboard) (string, error)
	Edit(ctx context.Context, chatID, messageID, text string, kb Keyboard) error
	Answer(ctx context.Context, callbackID, text string, alert bool) error
	// Prompt asks for a typed reply to the returned message
	Prompt(ctx context.Context, chatID, text string) (string, error)
	Delete(ctx context.Context, chatID, messageID string) error
}

// Ref joins a chat and message id into a correlation id
func Ref(chatID, messageID string) string {
	return chatID + ":" + messageID
}

// SplitRef is the inverse of Ref
func SplitRef(ref string) (chatID, messageID string, ok bool) {
	i := strings.LastIndex(ref, ":")
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

func ballotRef(chatID, messageID, userID string) string {
	return Ref(chatID, messageID) + ":" + userID
}
