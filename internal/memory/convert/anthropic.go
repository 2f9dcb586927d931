// Package convert maps provider-agnostic messages to and from the wire
// formats of the supported LLM SDKs. Converters are pure: they never touch
// storage and never invoke a model.
package convert

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/vianexus/agentmemory/pkg/types"
)

// ToAnthropic converts a history into Anthropic message params plus the
// aggregated system prompt blocks. System turns become system blocks; tool
// results travel as user turns, which is how the Messages API expects them.
func ToAnthropic(msgs []types.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var out []anthropic.MessageParam
	var system []anthropic.TextBlockParam
	for _, msg := range msgs {
		switch msg.Role {
		case types.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case types.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case types.RoleUser, types.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out, system
}

// FromAnthropic flattens an Anthropic response into an assistant message
// for the given session. Text blocks are concatenated in order.
func FromAnthropic(resp *anthropic.Message) types.Message {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	return types.Message{
		Role:     types.RoleAssistant,
		Content:  b.String(),
		Sequence: types.SequenceAuto,
	}
}
