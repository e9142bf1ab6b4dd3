package react

import (
	"fmt"
	"strings"

	"github.com/loomlab/loom/tool"
)

// BuildSystemPrompt renders the protocol instructions plus the tool roster
// exposed to the model. The wording keeps the markers exactly as the parser
// expects them.
func BuildSystemPrompt(description string, tools []tool.Tool) string {
	var b strings.Builder

	if description != "" {
		b.WriteString(description)
		b.WriteString("\n\n")
	}

	b.WriteString("Answer using the following protocol. Respond with exactly one of:\n\n")
	b.WriteString("Thought: <your reasoning about what to do next>\n\n")
	b.WriteString("Action: <tool name>\nAction Input: <JSON object with the tool arguments>\n\n")
	b.WriteString("Final Answer: <your complete answer to the user>\n\n")
	b.WriteString("After an Action you will receive an Observation with the tool result. ")
	b.WriteString("Never write the Observation yourself.\n")

	if len(tools) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
		}
	}

	return b.String()
}
