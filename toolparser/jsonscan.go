package toolparser

import "strings"

// toolCallPatterns lists the JSON-fallback tool-call opening forms
// recognised regardless of whitespace variation, grounded in
// streaming_parser.rs::TOOL_CALL_PATTERNS.
var toolCallPatterns = []string{
	`{"tool":`,
	`{ "tool":`,
	`{"tool" :`,
	`{ "tool" :`,
}

// proseMarkers flag an assistant "stutter" — prose fragments leaking into
// what should be JSON keys — grounded in streaming_parser.rs::PROSE_MARKERS.
var proseMarkers = []string{
	"I'll", "Let me", "Here's", "I can", "I need", "First", "Now", "The ",
}

// findJSONObjectEnd returns the byte index of the closing brace of the
// first complete top-level JSON object in text, or -1 if text does not yet
// contain one (e.g. more chunks are still arriving). Brace/quote/escape
// aware so it is never fooled by braces inside string values.
func findJSONObjectEnd(text string) int {
	braceCount := 0
	inString := false
	escapeNext := false
	foundStart := false

	for i, ch := range text {
		if escapeNext {
			escapeNext = false
			continue
		}
		switch ch {
		case '\\':
			escapeNext = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				braceCount++
				foundStart = true
			}
		case '}':
			if !inString {
				braceCount--
				if braceCount == 0 && foundStart {
					return i
				}
			}
		}
	}
	return -1
}

// isJSONInvalidated reports whether a partial JSON tool call fragment has
// been abandoned: an unescaped newline inside a string is invalid JSON; a
// newline followed by ordinary prose means the model never intended JSON
// here; a newline followed by a fresh tool-call pattern means the previous
// fragment was abandoned mid-stream. Grounded in
// streaming_parser.rs::is_json_invalidated.
func isJSONInvalidated(jsonText string) bool {
	inString := false
	escapeNext := false

	runes := []rune(jsonText)
	// Track byte offsets by re-walking with range for correctness on
	// multi-byte content; but pattern checks below operate on the string
	// directly via indices recovered through strings functions, so a
	// simple rune scan with a parallel byte cursor is used.
	byteIdx := 0
	for idx := 0; idx < len(runes); idx++ {
		ch := runes[idx]
		chLen := len(string(ch))
		if escapeNext {
			escapeNext = false
			byteIdx += chLen
			continue
		}
		switch ch {
		case '\\':
			escapeNext = true
		case '"':
			inString = !inString
		case '\n':
			if inString {
				return true
			}
			// Skip whitespace after the newline.
			j := idx + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t') {
				j++
			}
			if j < len(runes) {
				remaining := string(runes[j:])
				for _, p := range toolCallPatterns {
					if strings.HasPrefix(remaining, p) {
						return true
					}
				}
				nextCh := runes[j]
				if !isValidJSONContinuationChar(nextCh) {
					return true
				}
			}
		}
		byteIdx += chLen
	}
	return false
}

func isValidJSONContinuationChar(ch rune) bool {
	switch ch {
	case '"', '{', '}', '[', ']', ':', ',', '-', '\n', 't', 'f', 'n':
		return true
	}
	return ch >= '0' && ch <= '9'
}

// isOnOwnLine reports whether pos is at the start of text, or preceded only
// by whitespace since the last newline — the rule that prevents JSON
// examples embedded in prose from being mistaken for tool calls.
func isOnOwnLine(text string, pos int) bool {
	if pos == 0 {
		return true
	}
	lineStart := strings.LastIndex(text[:pos], "\n")
	if lineStart == -1 {
		lineStart = 0
	} else {
		lineStart++
	}
	for _, ch := range text[lineStart:pos] {
		if ch != ' ' && ch != '\t' && ch != '\r' {
			return false
		}
	}
	return true
}

// findFirstToolCallStart finds the earliest position (searching forward)
// of a recognised tool-call opening pattern that sits on its own line.
func findFirstToolCallStart(text string) (int, bool) {
	best := -1
	for _, pattern := range toolCallPatterns {
		searchStart := 0
		for searchStart < len(text) {
			rel := strings.Index(text[searchStart:], pattern)
			if rel == -1 {
				break
			}
			pos := searchStart + rel
			if isOnOwnLine(text, pos) {
				if best == -1 || pos < best {
					best = pos
				}
				break
			}
			searchStart = pos + 1
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// findLastToolCallStart finds the latest position (searching backward) of a
// recognised tool-call opening pattern that sits on its own line.
func findLastToolCallStart(text string) (int, bool) {
	best := -1
	for _, pattern := range toolCallPatterns {
		searchEnd := len(text)
		for searchEnd > 0 {
			pos := strings.LastIndex(text[:searchEnd], pattern)
			if pos == -1 {
				break
			}
			if isOnOwnLine(text, pos) {
				if best == -1 || pos > best {
					best = pos
				}
				break
			}
			searchEnd = pos
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// argsContainProseFragments detects a "stuttered" malformed tool call whose
// argument keys contain leaked conversational prose rather than real
// parameter names. Grounded in streaming_parser.rs::args_contain_prose_fragments.
func argsContainProseFragments(keys []string) bool {
	for _, key := range keys {
		if len(key) > 100 || strings.Contains(key, "\n") {
			return true
		}
		for _, marker := range proseMarkers {
			if strings.Contains(key, marker) {
				return true
			}
		}
	}
	return false
}
