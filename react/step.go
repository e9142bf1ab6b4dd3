// Package react implements the structured reasoning protocol spoken between
// the loop and the model: a constrained line grammar of thoughts, tool
// actions, observations and final answers, plus the prompt that teaches the
// model to speak it.
package react

// Step is one unit of the reasoning protocol. Concrete step types implement
// the unexported marker enabling a closed set. Steps are produced by Parse,
// never constructed by hand during a run except as synthetic error
// observations.
type Step interface{ isStep() }

// ThoughtStep carries free-form reasoning. Text holds the entire trimmed
// model turn, marker included, so the transcript keeps the model's own framing.
type ThoughtStep struct {
	Text string
}

func (ThoughtStep) isStep() {}

// ActionStep requests a tool invocation with decoded JSON input.
type ActionStep struct {
	Tool  string
	Input map[string]any
}

func (ActionStep) isStep() {}

// ObservationStep is the result text fed back after a tool call or a
// synthetic description of a local recoverable failure.
type ObservationStep struct {
	Text string
}

func (ObservationStep) isStep() {}

// FinalAnswerStep carries the content that becomes the assistant's visible
// reply.
type FinalAnswerStep struct {
	Text string
}

func (FinalAnswerStep) isStep() {}
