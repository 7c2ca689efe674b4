package subagent

import (
	"strings"

	"github.com/subagentrun/subagent/compose"
	"github.com/subagentrun/subagent/eval"
	"github.com/subagentrun/subagent/llm"
	"github.com/subagentrun/subagent/render"
	"github.com/subagentrun/subagent/step"
	"github.com/subagentrun/subagent/tool"
)

// buildDSLRequest composes one turn's full LLM request: the static
// SYSTEM prompt, the expanded mission, the dynamic Data Inventory and
// Tool Schemas sections, and the Renderer's compacted
// turn-history message. stripTools omits the tool
// catalog on must_return/retry turns, where a tool call would only
// consume the agent's last turn without a chance to act on the result.
func buildDSLRequest(agent *Agent, ec *eval.EvalContext, dispatcher *tool.Dispatcher, turns []step.Turn, turnNumber int, turnsLeft int, turnType step.TurnType, stripTools bool) (llm.Request, error) {
	if err := agent.ValidatePlaceholders(); err != nil {
		return llm.Request{}, err
	}

	system := compose.System(compose.Options{MaxTurns: agent.MaxTurns})

	var b strings.Builder
	b.WriteString(expandSimple(agent.Prompt, ec.Data))
	b.WriteString("\n\n")
	if inv := compose.DataInventory(ec.Data, agent.Signature); inv != "" {
		b.WriteString(inv)
		b.WriteString("\n")
	}
	if !stripTools {
		if schemas := compose.ToolSchemas(dispatcher.Descriptors()); schemas != "" {
			b.WriteString(schemas)
			b.WriteString("\n")
		}
	}

	renderOpts := render.Options{TurnsLeft: turnsLeft, Final: turnType == step.MustReturn}
	for _, m := range agent.Compression.ToMessages(turns, ec.Memory, renderOpts) {
		b.WriteString(m.Content)
	}

	toolNames := make([]string, 0, len(dispatcher.Descriptors()))
	if !stripTools {
		for _, d := range dispatcher.Descriptors() {
			if !d.CatalogOnly {
				toolNames = append(toolNames, d.Name)
			}
		}
	}

	return llm.Request{
		System:    system,
		Messages:  []llm.Message{{Role: "user", Content: b.String()}},
		Turn:      turnNumber,
		ToolNames: toolNames,
		Output:    dslOutputLabel(agent.OutputMode),
	}, nil
}

// dslOutputLabel maps DSL mode to the external contract's empty-string
// default, reserving "json"/"text" for those two output modes.
func dslOutputLabel(m OutputMode) string {
	if m == OutputDSL {
		return ""
	}
	return string(m)
}
