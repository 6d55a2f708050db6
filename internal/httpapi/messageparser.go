package httpapi

import (
	"regexp"
	"strings"
)

// parsedConversation is the result of extracting structured turns out of a
// raw OpenWebUI-style query, grounded on message_parser.py's
// parse_openwebui_query: a meta-task wrapper carries the real conversation
// inside "### Chat History: <chat_history>...</chat_history>"; failing
// that, a bare "USER:"/"ASSISTANT:" transcript is split directly; anything
// else is a single direct user message.
type parsedConversation struct {
	Messages       []chatMessage
	IsMetaTask     bool
	ExtractionType string
}

var (
	chatHistoryTag = regexp.MustCompile(`(?is)### Chat History:\s*<chat_history>(.*?)</chat_history>`)
	roleMarker     = regexp.MustCompile(`(?i)(USER:|ASSISTANT:)`)
)

// parseConversationInput extracts structured messages from a raw query
// string in any of the three shapes the original endpoint accepts.
func parseConversationInput(raw string) parsedConversation {
	if strings.Contains(raw, "### Task:") && strings.Contains(raw, "### Chat History:") {
		if m := chatHistoryTag.FindStringSubmatch(raw); m != nil {
			if msgs := extractChatMessages(m[1]); len(msgs) > 0 {
				return parsedConversation{Messages: msgs, IsMetaTask: true, ExtractionType: "meta_task"}
			}
		}
		if parts := strings.SplitN(raw, "### Chat History:", 2); len(parts) == 2 {
			if msgs := extractChatMessages(parts[1]); len(msgs) > 0 {
				return parsedConversation{Messages: msgs, IsMetaTask: true, ExtractionType: "meta_task"}
			}
		}
	}

	if strings.Contains(strings.ToUpper(raw), "USER:") || strings.Contains(strings.ToUpper(raw), "ASSISTANT:") {
		if msgs := extractChatMessages(raw); len(msgs) > 0 {
			return parsedConversation{Messages: msgs, ExtractionType: "simple_chat"}
		}
	}

	trimmed := strings.TrimSpace(raw)
	return parsedConversation{
		Messages:       []chatMessage{{Role: "user", Content: trimmed}},
		ExtractionType: "direct",
	}
}

// extractChatMessages splits content on USER:/ASSISTANT: markers, pairing
// each marker with the text that follows it up to the next marker.
func extractChatMessages(content string) []chatMessage {
	parts := roleMarker.Split(content, -1)
	markers := roleMarker.FindAllString(content, -1)

	// parts[0] is whatever precedes the first marker (discarded, matching
	// the original's behavior of only emitting messages once a role is seen).
	var messages []chatMessage
	for i, marker := range markers {
		if i+1 >= len(parts) {
			break
		}
		role := "user"
		if strings.EqualFold(marker, "ASSISTANT:") {
			role = "assistant"
		}
		text := collapseWhitespace(parts[i+1])
		if text != "" {
			messages = append(messages, chatMessage{Role: role, Content: text})
		}
	}
	return messages
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " "))
}

// lastUserMessage returns the content of the last user-role message, or ""
// if there isn't one.
func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}
