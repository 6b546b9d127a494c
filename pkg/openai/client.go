package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/korjavin/whenwemeet/pkg/logger"
	"github.com/sashabaranov/go-openai"
)

// Client represents an OpenAI API client. A client without an API key is
// disabled and never calls the API
type Client struct {
	client *openai.Client
	model  string
	logger *logger.Logger
}

// New creates a new OpenAI client
func New(apiKey, apiBase, model string) *Client {
	c := &Client{
		model:  model,
		logger: logger.New("openai"),
	}
	if apiKey == "" {
		return c
	}

	config := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		config.BaseURL = apiBase
	}
	c.client = openai.NewClientWithConfig(config)
	return c
}

// Enabled reports whether the client has credentials
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// GenerateAnnouncement asks the model for a short announcement of the chosen
// meeting time(s)
func (c *Client) GenerateAnnouncement(ctx context.Context, title string, winners []string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("openai client is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(`
You are a friendly scheduling assistant bot for a Telegram group. The group voted on when to meet for "%s".
The winning time slot(s):
%s

Write a short, cheerful announcement telling everyone when the meeting is. Keep it concise and mobile-friendly.
Add a couple of appropriate emojis. Return only the message text, no explanations or other text.
`, title, "- "+strings.Join(winners, "\n- "))

	c.logger.Info("Generating announcement for %q with %d winning options", title, len(winners))
	c.logger.Debug("OpenAI prompt (first 100 chars): %s", truncateString(prompt, 100))

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Temperature: 0.7,
		},
	)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI API")
	}

	content := cleanResponse(resp.Choices[0].Message.Content)
	c.logger.Debug("OpenAI response (first 100 chars): %s", truncateString(content, 100))
	return content, nil
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// cleanResponse strips whitespace, markdown code fences and wrapping quotes
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		if firstLineEnd := strings.Index(s, "\n"); firstLineEnd != -1 {
			s = s[firstLineEnd+1:]
		}
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}

	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}
