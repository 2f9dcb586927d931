package convert

import (
	"github.com/openai/openai-go"

	"github.com/vianexus/agentmemory/pkg/types"
)

// ToOpenAI converts a history into Chat Completions message params. Tool
// results carry no call ID in the provider-agnostic form, so they are
// replayed as user turns rather than tool messages.
func ToOpenAI(msgs []types.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, msg := range msgs {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case types.RoleUser, types.RoleTool:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// FromOpenAI flattens a chat completion into an assistant message.
func FromOpenAI(completion *openai.ChatCompletion) types.Message {
	var content string
	if len(completion.Choices) > 0 {
		content = completion.Choices[0].Message.Content
	}
	return types.Message{
		Role:     types.RoleAssistant,
		Content:  content,
		Sequence: types.SequenceAuto,
	}
}
