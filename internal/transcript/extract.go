package transcript

import (
	"regexp"
	"strings"

	"huddle/internal/domain"
)

const (
	// agentMarker precedes every line the agent's own action logger emits.
	agentMarker = "agent: "
	// speakMarker is the tool the agent calls to speak; its payload is the
	// actual utterance. The interrupted variant is a control event fired
	// when a participant talks over the agent and carries no new speech.
	speakMarker            = "gemini_meet_speak_text"
	speakInterruptedMarker = "gemini_meet_speak_text_interrupted"
)

// resultPhrases are tool results echoed under the agent marker. They look
// like "name: ..." fragments but are outcomes, not invocations.
var resultPhrases = []string{
	"sent message",
	"joined meeting",
	"left the meeting",
	"finished speaking",
	"error",
	"failed",
}

// levelTokens can never be tool names: "info: retrying=true" is a log
// line, not an invocation.
var levelTokens = map[string]bool{
	"info":    true,
	"warning": true,
	"error":   true,
	"debug":   true,
}

// reservedSpeakers are internal component labels, not meeting participants.
var reservedSpeakers = map[string]bool{
	"agent":      true,
	"user":       true,
	"assistant":  true,
	"system":     true,
	"transcript": true,
	"browser":    true,
}

var (
	speakTextRe = regexp.MustCompile(`text="([^"]*)"`)
	// toolCallRe finds "name: key=value" fragments anywhere in a message.
	// This is a deliberately loose fallback: it produces best-effort usage
	// statistics, not an audit log.
	toolCallRe = regexp.MustCompile(`([A-Za-z][\w\-]*):\s+[A-Za-z_]\w*=\S`)
	// humanRe matches messages ending in `Name: "text"`. The name capture
	// may still carry a logger prefix, which extractHuman strips.
	humanRe = regexp.MustCompile(`([\w .:\-]+):\s*"([^"]*)"$`)
)

// Extract parses raw log lines into transcript segments and a tool-usage
// frequency map. Malformed lines are skipped, never fatal.
func Extract(rawLines []string) ([]domain.TranscriptSegment, map[string]int) {
	segments := []domain.TranscriptSegment{}
	usage := map[string]int{}

	for _, raw := range rawLines {
		line := Parse(raw)
		if line.Shape == ShapeUnparsed {
			continue
		}

		if name, ok := toolName(line.Message); ok {
			usage[name]++
		}

		if seg, ok := extractAgent(line); ok {
			appendSegment(&segments, seg)
			continue
		}
		if seg, ok := extractHuman(line); ok {
			appendSegment(&segments, seg)
		}
	}
	return segments, usage
}

// toolName applies the two tool-detection rules in order: the agent action
// marker first, then the loose name:key=value fallback.
func toolName(msg string) (string, bool) {
	if idx := strings.Index(msg, agentMarker); idx >= 0 {
		rest := msg[idx+len(agentMarker):]
		lower := strings.ToLower(rest)
		for _, phrase := range resultPhrases {
			if strings.HasPrefix(lower, phrase) {
				return "", false
			}
		}
		if colon := strings.Index(rest, ":"); colon > 0 {
			name := strings.TrimSpace(rest[:colon])
			if isToolToken(name) {
				return name, true
			}
		}
		return "", false
	}

	m := toolCallRe.FindStringSubmatch(msg)
	if m == nil {
		return "", false
	}
	name := m[1]
	if levelTokens[strings.ToLower(name)] {
		return "", false
	}
	return name, true
}

func isToolToken(name string) bool {
	if name == "" || levelTokens[strings.ToLower(name)] {
		return false
	}
	for _, r := range name {
		if r == ' ' || r == '"' {
			return false
		}
	}
	return true
}

func extractAgent(line ParsedLine) (domain.TranscriptSegment, bool) {
	if !strings.Contains(line.Message, speakMarker) {
		return domain.TranscriptSegment{}, false
	}
	if strings.Contains(line.Message, speakInterruptedMarker) {
		return domain.TranscriptSegment{}, false
	}
	m := speakTextRe.FindStringSubmatch(line.Message)
	if m == nil {
		return domain.TranscriptSegment{}, false
	}
	return domain.TranscriptSegment{
		Timestamp: line.Timestamp,
		Speaker:   "agent",
		Text:      m[1],
		Kind:      domain.SegmentAgent,
	}, true
}

func extractHuman(line ParsedLine) (domain.TranscriptSegment, bool) {
	m := humanRe.FindStringSubmatch(line.Message)
	if m == nil {
		return domain.TranscriptSegment{}, false
	}
	name := m[1]
	// A colon inside the capture means a logger prefix leaked in; the
	// speaker is whatever follows the last one.
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") || reservedSpeakers[strings.ToLower(name)] {
		return domain.TranscriptSegment{}, false
	}
	return domain.TranscriptSegment{
		Timestamp: line.Timestamp,
		Speaker:   name,
		Text:      m[2],
		Kind:      domain.SegmentHuman,
	}, true
}

// appendSegment adds seg unless it repeats the previous segment verbatim.
// TTS retries and playback echoes produce exact duplicates back to back.
func appendSegment(segments *[]domain.TranscriptSegment, seg domain.TranscriptSegment) {
	if n := len(*segments); n > 0 {
		last := (*segments)[n-1]
		if last.Kind == seg.Kind && last.Speaker == seg.Speaker && last.Text == seg.Text {
			return
		}
	}
	*segments = append(*segments, seg)
}
