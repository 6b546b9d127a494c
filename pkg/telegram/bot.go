package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/whenwemeet/pkg/interaction"
	"github.com/korjavin/whenwemeet/pkg/logger"
)

// HandlerFunc receives every update converted to an event
type HandlerFunc func(ctx context.Context, e interaction.Event)

// Bot represents a Telegram bot instance. It renders router output and
// delivers scheduled reminders
type Bot struct {
	api    *tgbotapi.BotAPI
	logger *logger.Logger
}

// New creates a new Telegram bot instance
func New(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	bot := &Bot{
		api:    api,
		logger: logger.New("telegram"),
	}

	bot.logger.Info("Telegram bot created: @%s", api.Self.UserName)
	return bot, nil
}

// Run long-polls for updates and hands each one to handler until ctx is done
func (b *Bot) Run(ctx context.Context, handler HandlerFunc) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Stopping update loop")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			e, ok := toEvent(update)
			if !ok {
				continue
			}
			handler(ctx, e)
		}
	}
}

// toEvent converts the updates the router understands
func toEvent(update tgbotapi.Update) (interaction.Event, bool) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil || cb.From == nil {
			return interaction.Event{}, false
		}
		chatID := formatID(cb.Message.Chat.ID)
		msgID := strconv.Itoa(cb.Message.MessageID)
		return interaction.Event{
			Kind:          interaction.KindCallback,
			CorrelationID: interaction.Ref(chatID, msgID),
			ChatID:        chatID,
			MessageID:     msgID,
			UserID:        formatID(cb.From.ID),
			UserName:      displayName(cb.From),
			Data:          cb.Data,
			CallbackID:    cb.ID,
		}, true
	}

	m := update.Message
	if m == nil || m.Chat == nil || m.From == nil {
		return interaction.Event{}, false
	}
	e := interaction.Event{
		ChatID:    formatID(m.Chat.ID),
		MessageID: strconv.Itoa(m.MessageID),
		UserID:    formatID(m.From.ID),
		UserName:  displayName(m.From),
	}
	if m.IsCommand() {
		e.Kind = interaction.KindCommand
		e.Command = m.Command()
		e.Args = m.CommandArguments()
		e.CorrelationID = interaction.Ref(e.ChatID, e.MessageID)
		return e, true
	}
	if m.Text == "" {
		return interaction.Event{}, false
	}
	e.Kind = interaction.KindText
	e.Text = m.Text
	if m.ReplyToMessage != nil {
		e.ReplyTo = strconv.Itoa(m.ReplyToMessage.MessageID)
		e.CorrelationID = interaction.Ref(e.ChatID, e.ReplyTo)
	}
	return e, true
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}

func parseMessageID(messageID string) (int, error) {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	return id, nil
}

// toMarkup builds inline markup; a nil keyboard yields an empty markup
func toMarkup(kb interaction.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// Send sends an HTML message, with buttons when kb is not nil
func (b *Bot) Send(_ context.Context, chatID, text string, kb interaction.Keyboard) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if kb != nil {
		msg.ReplyMarkup = toMarkup(kb)
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", chatID, err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// Edit replaces the text and buttons of a message
func (b *Bot) Edit(_ context.Context, chatID, messageID, text string, kb interaction.Keyboard) error {
	cid, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	mid, err := parseMessageID(messageID)
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageTextAndMarkup(cid, mid, text, toMarkup(kb))
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	if _, err := b.api.Send(edit); err != nil {
		if notModified(err) {
			return nil
		}
		return fmt.Errorf("failed to edit message %s in %s: %w", messageID, chatID, err)
	}
	return nil
}

// notModified reports Telegram's refusal to apply an edit that changes nothing
func notModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

// Answer answers a callback query, as an alert when alert is set
func (b *Bot) Answer(_ context.Context, callbackID, text string, alert bool) error {
	if callbackID == "" {
		return nil
	}
	callback := tgbotapi.NewCallback(callbackID, text)
	if alert {
		callback = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	_, err := b.api.Request(callback)
	return err
}

// Prompt sends a message that asks the client to reply to it
func (b *Bot) Prompt(_ context.Context, chatID, text string) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	sent, err := b.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("failed to send prompt to %s: %w", chatID, err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// Delete removes a message
func (b *Bot) Delete(_ context.Context, chatID, messageID string) error {
	cid, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	mid, err := parseMessageID(messageID)
	if err != nil {
		return err
	}
	_, err = b.api.Request(tgbotapi.NewDeleteMessage(cid, mid))
	return err
}

// ChannelAvailable reports whether the bot can still reach a chat. Only a
// definitive reply from Telegram yields false; transport failures are
// returned as errors
func (b *Bot) ChannelAvailable(_ context.Context, channelID string) (bool, error) {
	id, err := parseChatID(channelID)
	if err != nil {
		return false, nil
	}
	_, err = b.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
	if err == nil {
		return true, nil
	}
	if chatGone(err) {
		b.logger.Warn("Chat %s is unavailable: %v", channelID, err)
		return false, nil
	}
	return false, fmt.Errorf("failed to look up chat %s: %w", channelID, err)
}

// chatGone matches the replies Telegram gives for deleted chats and for
// chats the bot was removed from
func chatGone(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case 403:
		return true
	case 400:
		msg := strings.ToLower(apiErr.Message)
		return strings.Contains(msg, "chat not found") ||
			strings.Contains(msg, "bot was kicked") ||
			strings.Contains(msg, "not a member")
	}
	return false
}

// Notify delivers a reminder
func (b *Bot) Notify(ctx context.Context, channelID, text string) error {
	_, err := b.Send(ctx, channelID, text, nil)
	return err
}
