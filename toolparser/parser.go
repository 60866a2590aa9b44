package toolparser

import (
	"encoding/json"
	"fmt"

	"github.com/martinemde/turnengine/contextwindow"
)

// maxConsecutiveParseFailures bounds how many malformed JSON-fallback tool
// call attempts in a row are tolerated before the parser gives up on
// structured parsing for the remainder of the iteration and reverts to
// plain-text passthrough (spec section 4.3).
const maxConsecutiveParseFailures = 3

// nativeCallState accumulates ToolCallDelta fragments for one call_id.
type nativeCallState struct {
	name string
	args string
}

// Parser is the stateful, single-threaded streaming tool-call parser (C3).
// One Parser is used per turn iteration; it is not safe for concurrent use
// and requires no locking because chunks for a single stream always arrive
// on one goroutine.
type Parser struct {
	native bool // true once any native ToolCallDelta is observed

	nativeCalls    map[string]*nativeCallState
	nativeCallOrder []string

	textBuffer           string
	emittedPosition      int // offset up to which textBuffer has been forwarded as EmitText
	lastConsumedPosition int
	inJSONToolCall       bool
	jsonToolStart        int

	fenceInFence bool
	fenceLine    string

	plainTextFallback bool // set once malformed streak reaches the bound
	consecutiveFailures int

	lastFinalisedName string
	lastFinalisedArgs string
	sawTextSinceLast  bool

	warnings []string
}

// New creates a Parser for one turn iteration.
func New() *Parser {
	return &Parser{
		nativeCalls: make(map[string]*nativeCallState),
	}
}

// Warnings returns non-fatal issues recorded during parsing (duplicate
// suppressions, malformed-block recoveries), to be surfaced after the turn
// per spec section 7.
func (p *Parser) Warnings() []string { return p.warnings }

// Feed processes one Chunk and returns zero or more Events, in emission
// order. Partial tool calls are never emitted; text emitted before a tool
// call is never re-ordered across it (spec section 4.3 invariants).
func (p *Parser) Feed(c Chunk) []Event {
	switch c.Kind {
	case ChunkTextDelta:
		return p.feedText(c.Text)
	case ChunkToolCallDelta:
		return p.feedNativeDelta(c)
	case ChunkStopReason:
		return p.feedStop(c.StopReason)
	case ChunkError:
		return nil
	default:
		return nil
	}
}

func (p *Parser) feedText(text string) []Event {
	if text == "" {
		return nil
	}
	p.updateFenceTracker(text)
	p.textBuffer += text

	if p.native || p.plainTextFallback {
		p.sawTextSinceLast = true
		return []Event{textEvent(text)}
	}

	// JSON fallback mode: try to progress a candidate tool call. Text
	// consumed into a tool-call candidate is withheld from EmitText until
	// the candidate resolves (success, failure, or abandonment); everything
	// else — including the prose preceding a newly detected candidate — is
	// flushed as soon as it's known not to be part of one, tracked by
	// absolute buffer offset so it is never dropped or reordered (spec
	// section 4.3).
	var events []Event
	for {
		if !p.inJSONToolCall {
			if !p.findCandidateStart() {
				if p.emittedPosition < len(p.textBuffer) {
					events = append(events, textEvent(p.textBuffer[p.emittedPosition:]))
					p.sawTextSinceLast = true
					p.emittedPosition = len(p.textBuffer)
				}
				return events
			}
			if p.jsonToolStart > p.emittedPosition {
				events = append(events, textEvent(p.textBuffer[p.emittedPosition:p.jsonToolStart]))
				p.sawTextSinceLast = true
				p.emittedPosition = p.jsonToolStart
			}
		}

		tc, ok, invalidated := p.advanceJSONToolCall()
		switch {
		case ok:
			p.sawTextSinceLast = false
			events = append(events, p.finalizeToolCall(tc)...)
			p.emittedPosition = p.lastConsumedPosition
		case invalidated:
			if p.lastConsumedPosition > p.emittedPosition {
				events = append(events, textEvent(p.textBuffer[p.emittedPosition:p.lastConsumedPosition]))
				p.sawTextSinceLast = true
			}
			p.emittedPosition = p.lastConsumedPosition
		default:
			// Still mid-candidate: nothing more resolves from this delta.
			return events
		}
	}
}

func (p *Parser) feedNativeDelta(c Chunk) []Event {
	p.native = true
	st, ok := p.nativeCalls[c.CallID]
	if !ok {
		st = &nativeCallState{}
		p.nativeCalls[c.CallID] = st
		p.nativeCallOrder = append(p.nativeCallOrder, c.CallID)
	}
	if c.Name != "" {
		st.name = c.Name
	}
	st.args += c.ArgumentsFragment
	return nil
}

func (p *Parser) feedStop(reason string) []Event {
	var events []Event

	if p.native {
		for _, callID := range p.nativeCallOrder {
			st := p.nativeCalls[callID]
			var parsed map[string]interface{}
			if err := json.Unmarshal([]byte(st.args), &parsed); err != nil {
				// Malformed arguments JSON: replace with a synthetic
				// tool-error result the model can react to, per spec 4.3.
				events = append(events, toolCallEvent(contextwindow.ToolCallRef{
					CallID:        callID,
					Name:          st.name,
					ArgumentsJSON: fmt.Sprintf(`{"__parse_error__":%q}`, err.Error()),
				}))
				p.warnings = append(p.warnings, fmt.Sprintf("malformed native tool call arguments for %s: %v", st.name, err))
				continue
			}
			events = append(events, p.finalizeToolCall(contextwindow.ToolCallRef{
				CallID:        callID,
				Name:          st.name,
				ArgumentsJSON: st.args,
			})...)
		}
	} else if p.textBuffer != "" {
		// Stream end: sweep the whole buffer for any JSON tool calls,
		// including ones the incremental scan hadn't yet closed.
		for _, tc := range p.parseAllJSONToolCalls() {
			events = append(events, p.finalizeToolCall(tc)...)
		}
	}

	events = append(events, stopEvent(reason))
	return events
}

// finalizeToolCall applies duplicate suppression (spec 4.3): a tool call
// identical by {name, arguments_json} to the immediately preceding
// finalised call, with no intervening EmitText, is suppressed and warned
// about. Non-adjacent repeats (an EmitText occurred between them) pass.
func (p *Parser) finalizeToolCall(tc contextwindow.ToolCallRef) []Event {
	if !p.sawTextSinceLast && tc.Name == p.lastFinalisedName && tc.ArgumentsJSON == p.lastFinalisedArgs && p.lastFinalisedName != "" {
		p.warnings = append(p.warnings, fmt.Sprintf("suppressed duplicate tool call: %s", tc.Name))
		return nil
	}
	p.lastFinalisedName = tc.Name
	p.lastFinalisedArgs = tc.ArgumentsJSON
	p.sawTextSinceLast = false
	return []Event{toolCallEvent(tc)}
}

func (p *Parser) updateFenceTracker(content string) {
	for _, ch := range content {
		if ch == '\n' {
			trimmed := trimLeftSpace(p.fenceLine)
			if hasFenceMarker(trimmed) {
				p.fenceInFence = !p.fenceInFence
			}
			p.fenceLine = ""
		} else {
			p.fenceLine += string(ch)
		}
	}
}

func trimLeftSpace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return s[i:]
}

func hasFenceMarker(s string) bool {
	return len(s) >= 3 && s[0] == '`' && s[1] == '`' && s[2] == '`'
}

// findCandidateStart searches the unconsumed buffer for the next recognised
// tool-call opening pattern that isn't inside a code fence and, if found,
// marks a candidate as started. Reports whether a candidate is now in
// progress (already-in-progress candidates short-circuit to true).
func (p *Parser) findCandidateStart() bool {
	if p.inJSONToolCall {
		return true
	}
	fenceRanges := findCodeFenceRanges(p.textBuffer)
	unchecked := p.textBuffer[p.lastConsumedPosition:]
	rel, found := findFirstToolCallStart(unchecked)
	if !found {
		return false
	}
	pos := p.lastConsumedPosition + rel
	if isPositionInFenceRanges(pos, fenceRanges) {
		return false
	}
	p.inJSONToolCall = true
	p.jsonToolStart = pos
	return true
}

// advanceJSONToolCall progresses an in-progress candidate one text delta's
// worth of buffer growth (p.inJSONToolCall must already be true). ok reports
// a complete, valid tool call just closed. invalidated reports the
// candidate was abandoned — either the JSON closed but didn't describe a
// valid tool call, or it was abandoned mid-stream per isJSONInvalidated —
// and its span reverts to plain text rather than being dropped (spec
// section 4.3). Neither flag set means the candidate is still pending more
// chunks.
func (p *Parser) advanceJSONToolCall() (tc contextwindow.ToolCallRef, ok bool, invalidated bool) {
	jsonText := p.textBuffer[p.jsonToolStart:]
	if endPos := findJSONObjectEnd(jsonText); endPos != -1 {
		jsonStr := jsonText[:endPos+1]
		p.inJSONToolCall = false
		p.lastConsumedPosition = p.jsonToolStart + len(jsonStr)

		if parsed, valid := p.tryParseToolCallJSON(jsonStr); valid {
			p.consecutiveFailures = 0
			return parsed, true, false
		}
		p.recordFailure()
		return contextwindow.ToolCallRef{}, false, true
	}

	if isJSONInvalidated(jsonText) {
		p.inJSONToolCall = false
		p.lastConsumedPosition = p.jsonToolStart + len(jsonText)
		p.recordFailure()
		return contextwindow.ToolCallRef{}, false, true
	}

	return contextwindow.ToolCallRef{}, false, false
}

// parseAllJSONToolCalls sweeps the full buffer for every complete JSON tool
// call, used once the stream has finished (native mode never reaches this
// path; this only runs in JSON-fallback mode).
func (p *Parser) parseAllJSONToolCalls() []contextwindow.ToolCallRef {
	var out []contextwindow.ToolCallRef
	fenceRanges := findCodeFenceRanges(p.textBuffer)
	searchStart := 0

	for searchStart < len(p.textBuffer) {
		searchText := p.textBuffer[searchStart:]
		rel, found := findFirstToolCallStart(searchText)
		if !found {
			break
		}
		absStart := searchStart + rel
		if isPositionInFenceRanges(absStart, fenceRanges) {
			searchStart = absStart + 1
			continue
		}
		jsonText := p.textBuffer[absStart:]
		endPos := findJSONObjectEnd(jsonText)
		if endPos == -1 {
			break
		}
		jsonStr := jsonText[:endPos+1]
		if tc, ok := p.tryParseToolCallJSON(jsonStr); ok {
			out = append(out, tc)
		}
		searchStart = absStart + endPos + 1
	}
	return out
}

func (p *Parser) tryParseToolCallJSON(jsonStr string) (contextwindow.ToolCallRef, bool) {
	var envelope struct {
		Tool string          `json:"tool"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &envelope); err != nil {
		return contextwindow.ToolCallRef{}, false
	}
	if envelope.Tool == "" {
		return contextwindow.ToolCallRef{}, false
	}
	var argsObj map[string]json.RawMessage
	if len(envelope.Args) > 0 {
		if err := json.Unmarshal(envelope.Args, &argsObj); err != nil {
			return contextwindow.ToolCallRef{}, false
		}
	}
	keys := make([]string, 0, len(argsObj))
	for k := range argsObj {
		keys = append(keys, k)
	}
	if argsContainProseFragments(keys) {
		return contextwindow.ToolCallRef{}, false
	}
	argsJSON := "{}"
	if len(envelope.Args) > 0 {
		argsJSON = string(envelope.Args)
	}
	return contextwindow.ToolCallRef{Name: envelope.Tool, ArgumentsJSON: argsJSON}, true
}

// recordFailure tracks the malformed-block streak and, once it reaches
// maxConsecutiveParseFailures, permanently switches this parser instance to
// plain-text passthrough for the remainder of the iteration (spec 4.3).
func (p *Parser) recordFailure() {
	p.consecutiveFailures++
	if p.consecutiveFailures >= maxConsecutiveParseFailures && !p.plainTextFallback {
		p.plainTextFallback = true
		p.warnings = append(p.warnings, "streaming tool parser: too many malformed blocks in a row, reverting to plain-text passthrough")
	}
}

// HasIncompleteToolCall reports whether the buffer currently holds an
// unresolved JSON tool-call candidate, useful for diagnostics when a stream
// ends mid-object without a StopReason chunk (a transport-level truncation).
func (p *Parser) HasIncompleteToolCall() bool {
	return p.inJSONToolCall
}
