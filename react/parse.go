package react

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Markers of the line grammar. Matching is case-insensitive at the start of
// a line.
const (
	thoughtMarker     = "Thought:"
	actionMarker      = "Action:"
	actionInputMarker = "Action Input:"
	finalAnswerMarker = "Final Answer:"
)

// ObservationMarker is passed to the model as a stop sequence so it cannot
// hallucinate tool results.
const ObservationMarker = "Observation:"

// ParseError describes a model turn that did not match the grammar. The
// loop recovers from it locally by synthesizing an observation.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// Parse interprets one model turn against the grammar. Exactly one
// interpretation is produced per turn:
//
//   - a Final Answer line wins over everything else
//   - an Action line requires a matching Action Input line holding a JSON
//     object; a missing input line or malformed JSON is a *ParseError
//   - a Thought line yields the entire trimmed turn
//   - anything else is a *ParseError describing the unrecognized structure
func Parse(text string) (Step, error) {
	trimmed := strings.TrimSpace(text)
	lines := strings.Split(trimmed, "\n")

	if rest, ok := findMarker(lines, finalAnswerMarker); ok {
		return FinalAnswerStep{Text: rest}, nil
	}

	if actionRest, ok := findMarker(lines, actionMarker); ok {
		inputRest, ok := findMarker(lines, actionInputMarker)
		if !ok {
			return nil, &ParseError{Message: "Action provided without Action Input"}
		}
		input, err := decodeInput(inputRest)
		if err != nil {
			return nil, &ParseError{Message: "Invalid JSON in Action Input"}
		}
		// The tool name is the remainder of the Action line only; joined
		// follow-up lines belong to the input payload.
		toolName := actionRest
		if i := strings.IndexByte(toolName, '\n'); i >= 0 {
			toolName = toolName[:i]
		}
		return ActionStep{Tool: strings.TrimSpace(toolName), Input: input}, nil
	}

	if _, ok := findMarker(lines, thoughtMarker); ok {
		return ThoughtStep{Text: trimmed}, nil
	}

	return nil, &ParseError{Message: fmt.Sprintf(
		"Unrecognized response structure; expected %q, %q + %q, or %q",
		thoughtMarker, actionMarker, actionInputMarker, finalAnswerMarker,
	)}
}

// findMarker locates the first line starting with marker (case-insensitive)
// and returns the remainder of that line joined with every following line,
// trimmed. Joining lets multi-line payloads (answers, JSON objects) span
// past the marker line.
func findMarker(lines []string, marker string) (string, bool) {
	lowered := strings.ToLower(marker)
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), lowered) {
			idx := strings.Index(strings.ToLower(line), lowered)
			first := line[idx+len(marker):]
			rest := append([]string{first}, lines[i+1:]...)
			return strings.TrimSpace(strings.Join(rest, "\n")), true
		}
	}
	return "", false
}

// decodeInput parses the action input as a JSON object. Only the first JSON
// value is consumed so trailing prose after the object does not break the
// decode.
func decodeInput(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	var input map[string]any
	if err := dec.Decode(&input); err != nil {
		return nil, err
	}
	return input, nil
}
