// Package transcript reconstructs structured conversation data from the
// unstructured log lines a worker emits. Parsing is heuristic and best
// effort: worker logs are written for humans, so every rule here degrades
// to "keep the raw line" rather than failing the batch.
package transcript

import "regexp"

// Shape identifies which line form a raw log line matched.
type Shape int

const (
	// ShapeWithLogger is "TIMESTAMP [LEVEL] LOGGER MESSAGE".
	ShapeWithLogger Shape = iota
	// ShapeSimple is "TIMESTAMP [LEVEL] MESSAGE".
	ShapeSimple
	// ShapeUnparsed is anything else (stack traces, wrapped lines). These
	// are kept as raw text and excluded from structured extraction.
	ShapeUnparsed
)

// ParsedLine is the result of running one raw line through the rule set.
type ParsedLine struct {
	Shape     Shape
	Timestamp string
	Level     string
	Logger    string
	Message   string
	Raw       string
}

type rule struct {
	shape Shape
	re    *regexp.Regexp
}

// Rules are tried in order; the first match wins. New upstream log formats
// get a new entry here instead of changes to the extractor itself. Logger
// tokens are dotted paths (joinly.core, gemini_meet.tts), which is what
// keeps the first rule from eating ordinary two-word messages.
var rules = []rule{
	{ShapeWithLogger, regexp.MustCompile(`^(\S+)\s+\[([a-z]+)\]\s+([\w\-]+(?:\.[\w\-]+)+)\s+(.+)$`)},
	{ShapeSimple, regexp.MustCompile(`^(\S+)\s+\[([a-z]+)\]\s+(.+)$`)},
}

// Parse classifies one raw line. It never fails: lines matching no rule
// come back as ShapeUnparsed with the raw text preserved.
func Parse(line string) ParsedLine {
	for _, r := range rules {
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch r.shape {
		case ShapeWithLogger:
			return ParsedLine{Shape: ShapeWithLogger, Timestamp: m[1], Level: m[2], Logger: m[3], Message: m[4], Raw: line}
		case ShapeSimple:
			return ParsedLine{Shape: ShapeSimple, Timestamp: m[1], Level: m[2], Message: m[3], Raw: line}
		}
	}
	return ParsedLine{Shape: ShapeUnparsed, Raw: line}
}
