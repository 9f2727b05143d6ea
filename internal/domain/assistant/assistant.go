// Package assistant is the canned medical-records chat assistant. Replies
// are chosen by keyword from an embedded response table after a short
// typing delay.
package assistant

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var ErrEmptyMessage = errors.New("message is required")

// Author of a message.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// DefaultHistoryCap bounds the messages kept per user.
const DefaultHistoryCap = 200

// Message is one chat message.
type Message struct {
	ID          int       `json:"id"`
	Type        Author    `json:"type"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Route       string    `json:"route,omitempty"`
}

// QuickAction prefills the message box with Query.
type QuickAction struct {
	Label string `json:"label"`
	Query string `json:"query"`
}

// Route maps keywords to a reply.
type Route struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

// Responses is the reply table.
type Responses struct {
	Greeting struct {
		Content     string   `yaml:"content"`
		Suggestions []string `yaml:"suggestions"`
	} `yaml:"greeting"`
	FollowUp     []string      `yaml:"follow_up"`
	QuickActions []QuickAction `yaml:"quick_actions"`
	Routes       []Route       `yaml:"routes"`
	Default      Route         `yaml:"default"`
}

//go:embed responses.yaml
var responsesYAML []byte

// LoadResponses parses the embedded reply table.
func LoadResponses() (*Responses, error) {
	return ParseResponses(responsesYAML)
}

// ParseResponses parses a reply table. A table without a default reply is
// rejected.
func ParseResponses(data []byte) (*Responses, error) {
	var r Responses
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse assistant responses: %w", err)
	}
	if r.Default.Reply == "" {
		return nil, errors.New("assistant responses: default reply is required")
	}
	if r.Default.Name == "" {
		r.Default.Name = "default"
	}
	return &r, nil
}

// Match picks the route for text: the first route with a keyword contained
// in the lower-cased text, otherwise the default.
func (r *Responses) Match(text string) Route {
	q := strings.ToLower(text)
	for _, route := range r.Routes {
		for _, kw := range route.Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				return route
			}
		}
	}
	return r.Default
}

// Assistant keeps one conversation per user.
type Assistant struct {
	responses  *Responses
	delay      time.Duration
	historyCap int
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.Mutex
	history map[string][]Message
}

func New(responses *Responses, delay time.Duration, logger zerolog.Logger) *Assistant {
	return &Assistant{
		responses:  responses,
		delay:      delay,
		historyCap: DefaultHistoryCap,
		now:        time.Now,
		logger:     logger.With().Str("component", "assistant").Logger(),
		history:    make(map[string][]Message),
	}
}

func (a *Assistant) QuickActions() []QuickAction {
	return a.responses.QuickActions
}

// History returns user's conversation, starting with the greeting.
func (a *Assistant) History(user string) []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.conversationLocked(user)...)
}

// Reset drops user's conversation back to the greeting.
func (a *Assistant) Reset(user string) {
	a.mu.Lock()
	delete(a.history, user)
	a.mu.Unlock()
}

func (a *Assistant) conversationLocked(user string) []Message {
	msgs, ok := a.history[user]
	if !ok {
		msgs = []Message{{
			ID:          1,
			Type:        AuthorAssistant,
			Content:     a.responses.Greeting.Content,
			Timestamp:   a.now().UTC(),
			Suggestions: a.responses.Greeting.Suggestions,
		}}
		a.history[user] = msgs
	}
	return msgs
}

func (a *Assistant) appendLocked(user string, m Message) Message {
	msgs := a.conversationLocked(user)
	m.ID = msgs[len(msgs)-1].ID + 1
	m.Timestamp = a.now().UTC()
	msgs = append(msgs, m)
	if len(msgs) > a.historyCap {
		msgs = msgs[len(msgs)-a.historyCap:]
	}
	a.history[user] = msgs
	return m
}

// Send records text from user and, after the typing delay, the assistant's
// reply. If ctx ends during the delay the user's message stays in the
// history without a reply and ctx's error is returned.
func (a *Assistant) Send(ctx context.Context, user, text string) (Message, Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, Message{}, ErrEmptyMessage
	}

	a.mu.Lock()
	sent := a.appendLocked(user, Message{Type: AuthorUser, Content: text})
	a.mu.Unlock()

	route := a.responses.Match(text)
	if a.delay > 0 {
		t := time.NewTimer(a.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			a.logger.Debug().Str("user", user).Msg("reply abandoned")
			return sent, Message{}, ctx.Err()
		case <-t.C:
		}
	}

	a.mu.Lock()
	reply := a.appendLocked(user, Message{
		Type:        AuthorAssistant,
		Content:     route.Reply,
		Suggestions: a.responses.FollowUp,
		Route:       route.Name,
	})
	a.mu.Unlock()

	a.logger.Debug().Str("user", user).Str("route", route.Name).Msg("assistant replied")
	return sent, reply, nil
}
