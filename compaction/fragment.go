package compaction

import (
	"fmt"
	"sort"
	"strings"

	"github.com/martinemde/turnengine/contextwindow"
)

// Fragment is a dehydrated range of the conversation log, persisted to disk
// so it can be pulled back in via rehydrate() without keeping it resident in
// the live context window. Grounded in acd.rs::Fragment.
type Fragment struct {
	FragmentID            string                 `json:"fragment_id"`
	CreatedAt             int64                  `json:"created_at"`
	Messages              []contextwindow.Message `json:"messages"`
	MessageCount          int                    `json:"message_count"`
	UserMessageCount      int                    `json:"user_message_count"`
	AssistantMessageCount int                    `json:"assistant_message_count"`
	ToolCallSummary       map[string]int         `json:"tool_call_summary"`
	EstimatedTokens       int                    `json:"estimated_tokens"`
	Topics                []string               `json:"topics"`
	PrecedingFragmentID   string                 `json:"preceding_fragment_id,omitempty"`
	FirstUserMessage      string                 `json:"first_user_message,omitempty"`
}

// NewFragment dehydrates messages into a Fragment, chained to the preceding
// fragment (if any) via precedingFragmentID. Grounded in acd.rs::Fragment::new.
func NewFragment(ids contextwindow.IDGenerator, clock contextwindow.Clock, estimate func(string) int, messages []contextwindow.Message, precedingFragmentID string) Fragment {
	userCount, assistantCount := 0, 0
	for _, m := range messages {
		switch m.Role {
		case contextwindow.RoleUser:
			userCount++
		case contextwindow.RoleAssistant:
			assistantCount++
		}
	}

	estimatedTokens := 0
	for _, m := range messages {
		estimatedTokens += estimate(m.Content)
		for _, tc := range m.ToolCalls {
			estimatedTokens += estimate(tc.ArgumentsJSON)
		}
	}

	var firstUserMessage string
	for _, m := range messages {
		if m.Role == contextwindow.RoleUser && !strings.HasPrefix(m.Content, "Tool result") {
			firstUserMessage = m.Content
			break
		}
	}

	return Fragment{
		FragmentID:            ids.NewID(),
		CreatedAt:             clock.Now(),
		Messages:              messages,
		MessageCount:          len(messages),
		UserMessageCount:      userCount,
		AssistantMessageCount: assistantCount,
		ToolCallSummary:       extractToolCallSummary(messages),
		EstimatedTokens:       estimatedTokens,
		Topics:                extractTopics(messages),
		PrecedingFragmentID:   precedingFragmentID,
		FirstUserMessage:      firstUserMessage,
	}
}

// extractToolCallSummary counts tool calls by name across assistant
// messages. Grounded in acd.rs::extract_tool_call_summary, adapted to read
// structured ToolCallRef slices rather than re-parsing serialized JSON.
func extractToolCallSummary(messages []contextwindow.Message) map[string]int {
	summary := make(map[string]int)
	for _, m := range messages {
		if m.Role != contextwindow.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			summary[tc.Name]++
		}
	}
	return summary
}

// extractTopics pulls a handful of short hint strings from the first few
// user messages, enough to let a human skim a fragment index without
// rehydrating it.
func extractTopics(messages []contextwindow.Message) []string {
	var topics []string
	for _, m := range messages {
		if m.Role != contextwindow.RoleUser {
			continue
		}
		line := firstLine(m.Content)
		if line == "" {
			continue
		}
		if len(line) > 80 {
			line = line[:80]
		}
		topics = append(topics, line)
		if len(topics) >= 5 {
			break
		}
	}
	return topics
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// GenerateStub builds the compact stand-in message left in the live context
// window in place of the dehydrated range, exact format grounded in
// acd.rs::Fragment::generate_stub (SPEC_FULL.md supplement 8): a leading
// user-task line, a one-line tool-call summary, and a rehydrate trailer.
func (f Fragment) GenerateStub() string {
	var b strings.Builder
	b.WriteString("---\n")
	if f.FirstUserMessage != "" {
		b.WriteString(f.FirstUserMessage)
		b.WriteString("\n\n")
	}

	toolPart := "no tool calls"
	if len(f.ToolCallSummary) > 0 {
		total := 0
		names := make([]string, 0, len(f.ToolCallSummary))
		for name := range f.ToolCallSummary {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			count := f.ToolCallSummary[name]
			total += count
			parts = append(parts, fmt.Sprintf("%s x%d", name, count))
		}
		toolPart = fmt.Sprintf("%d tool calls (%s)", total, strings.Join(parts, ", "))
	}

	fmt.Fprintf(&b, "DEHYDRATED CONTEXT: %s, %d total msgs. To restore, call: rehydrate(fragment_id: %q)\n",
		toolPart, f.MessageCount, f.FragmentID)
	b.WriteString("---")
	return b.String()
}

// ShortID returns the first 12 hex characters of the full fragment id, for
// compact display in listings (SPEC_FULL.md supplement 9). The rehydrate
// call embedded in GenerateStub's output uses the full id so lookup by id
// is always exact.
func (f Fragment) ShortID() string {
	id := strings.ReplaceAll(f.FragmentID, "-", "")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
