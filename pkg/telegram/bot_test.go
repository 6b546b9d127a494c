package telegram

import (
	"errors"
	"fmt"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/whenwemeet/pkg/interaction"
)

func TestToEventCommand(t *testing.T) {
	update := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, FirstName: "Ada", LastName: "L"},
		Chat:      &tgbotapi.Chat{ID: -1001},
		Text:      "/schedule@meetbot Sync | 2025-01-10",
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 17}},
	}}

	e, ok := toEvent(update)
	if !ok {
		t.Fatal("command was dropped")
	}
	if e.Kind != interaction.KindCommand || e.Command != "schedule" || e.Args != "Sync | 2025-01-10" {
		t.Errorf("event = %+v", e)
	}
	if e.ChatID != "-1001" || e.UserID != "42" || e.UserName != "Ada L" || e.CorrelationID != "-1001:7" {
		t.Errorf("event = %+v", e)
	}
}

func TestToEventCallback(t *testing.T) {
	update := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 42, UserName: "ada"},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: -1001}},
		Data:    "v:3",
	}}

	e, ok := toEvent(update)
	if !ok || e.Kind != interaction.KindCallback {
		t.Fatalf("event = %+v, %v", e, ok)
	}
	if e.CorrelationID != "-1001:9" || e.Data != "v:3" || e.CallbackID != "cb1" || e.UserName != "ada" {
		t.Errorf("event = %+v", e)
	}
}

func TestToEventReply(t *testing.T) {
	update := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID:      12,
		From:           &tgbotapi.User{ID: 42},
		Chat:           &tgbotapi.Chat{ID: -1001},
		Text:           "09:00 18:00",
		ReplyToMessage: &tgbotapi.Message{MessageID: 11},
	}}

	e, ok := toEvent(update)
	if !ok || e.Kind != interaction.KindText {
		t.Fatalf("event = %+v, %v", e, ok)
	}
	if e.ReplyTo != "11" || e.CorrelationID != "-1001:11" || e.Text != "09:00 18:00" {
		t.Errorf("event = %+v", e)
	}
}

func TestToEventIgnoresOtherUpdates(t *testing.T) {
	cases := map[string]tgbotapi.Update{
		"empty":   {},
		"sticker": {Message: &tgbotapi.Message{MessageID: 1, From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 1}}},
		"no chat": {Message: &tgbotapi.Message{MessageID: 1, From: &tgbotapi.User{ID: 1}, Text: "hi"}},
	}
	for name, update := range cases {
		if _, ok := toEvent(update); ok {
			t.Errorf("%s: update was converted", name)
		}
	}
}

func TestToMarkup(t *testing.T) {
	markup := toMarkup(interaction.Keyboard{
		{{Text: "1. Mon", Data: "v:0"}, {Text: "2. Tue", Data: "v:1"}},
		{{Text: "🏁 End poll", Data: "end"}},
	})
	if len(markup.InlineKeyboard) != 2 || len(markup.InlineKeyboard[0]) != 2 {
		t.Fatalf("markup = %+v", markup)
	}
	if btn := markup.InlineKeyboard[0][1]; btn.Text != "2. Tue" || btn.CallbackData == nil || *btn.CallbackData != "v:1" {
		t.Errorf("button = %+v", btn)
	}

	empty := toMarkup(nil)
	if empty.InlineKeyboard == nil || len(empty.InlineKeyboard) != 0 {
		t.Errorf("nil keyboard should clear buttons, got %+v", empty)
	}
}

func TestNotModified(t *testing.T) {
	if !notModified(errors.New("Bad Request: message is not modified: specified new message content is the same")) {
		t.Error("not-modified error was not recognized")
	}
	if notModified(errors.New("Bad Request: message to edit not found")) {
		t.Error("unrelated error matched")
	}
}

func TestChatGone(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"chat deleted", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, true},
		{"bot kicked", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was kicked from the group chat"}, true},
		{"wrapped", fmt.Errorf("lookup: %w", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot is not a member of the channel chat"}), true},
		{"rate limited", &tgbotapi.Error{Code: 429, Message: "Too Many Requests: retry after 5"}, false},
		{"other bad request", &tgbotapi.Error{Code: 400, Message: "Bad Request: message text is empty"}, false},
		{"network", errors.New("dial tcp: i/o timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chatGone(tt.err); got != tt.want {
				t.Errorf("chatGone(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
