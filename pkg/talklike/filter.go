package talklike

import (
	"strings"

	"github.com/CTAG07/talklike/pkg/markov"
)

// Message is one inbound chat message.
type Message struct {
	SenderID markov.UserID `json:"sender_id"`
	Text     string        `json:"text"`
	// FromBot marks messages authored by any bot account.
	FromBot bool `json:"from_bot,omitempty"`
}

// Filter decides whether a message should be used for training.
type Filter struct {
	// BotID is the bot's own user id. Zero disables the check.
	BotID markov.UserID `json:"bot_id" yaml:"bot_id"`
	// IgnoreBots skips every message flagged FromBot.
	IgnoreBots bool `json:"ignore_bots" yaml:"ignore_bots"`
	// CommandPrefixes are prefixes that mark a message as a bot command.
	CommandPrefixes []string `json:"command_prefixes" yaml:"command_prefixes"`
	// MentionPrefixes are prefixes that mark a message as addressed to someone.
	MentionPrefixes []string `json:"mention_prefixes" yaml:"mention_prefixes"`
}

// DefaultFilter returns a filter that skips bots, "!" and "/" commands, and
// messages that open with a mention.
func DefaultFilter() Filter {
	return Filter{
		IgnoreBots:      true,
		CommandPrefixes: []string{"!", "/"},
		MentionPrefixes: []string{"<@"},
	}
}

// Reason returns why a message is ineligible for training, or "" if it is
// eligible.
func (f Filter) Reason(m Message) string {
	if f.BotID != 0 && m.SenderID == f.BotID {
		return "own message"
	}
	if f.IgnoreBots && m.FromBot {
		return "bot message"
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return "empty"
	}
	for _, p := range f.CommandPrefixes {
		if p != "" && strings.HasPrefix(text, p) {
			return "command"
		}
	}
	for _, p := range f.MentionPrefixes {
		if p != "" && strings.HasPrefix(text, p) {
			return "mention"
		}
	}
	return ""
}

// Eligible reports whether m should be used for training.
func (f Filter) Eligible(m Message) bool {
	return f.Reason(m) == ""
}
