package toolparser

import "strings"

// fenceRange is a half-open [start, end) byte range of text INSIDE a
// ``` ... ``` fence (the markers themselves excluded).
type fenceRange struct {
	start, end int
}

// findCodeFenceRanges scans text for fenced code blocks so JSON examples
// inside prose documentation are never mistaken for live tool calls.
// Grounded in streaming_parser.rs::find_code_fence_ranges.
func findCodeFenceRanges(text string) []fenceRange {
	var ranges []fenceRange
	inFence := false
	fenceStart := 0
	lineStart := 0

	for i, ch := range text {
		if ch != '\n' {
			continue
		}
		line := text[lineStart:i]
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "```") {
			tickCount := 0
			for _, c := range trimmed {
				if c != '`' {
					break
				}
				tickCount++
			}
			if tickCount >= 3 {
				if inFence {
					ranges = append(ranges, fenceRange{fenceStart, lineStart})
					inFence = false
				} else {
					fenceStart = i + 1
					inFence = true
				}
			}
		}
		lineStart = i + 1
	}

	if inFence {
		ranges = append(ranges, fenceRange{fenceStart, len(text)})
	}
	return ranges
}

func isPositionInFenceRanges(pos int, ranges []fenceRange) bool {
	for _, r := range ranges {
		if pos >= r.start && pos < r.end {
			return true
		}
	}
	return false
}
