package devserver

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/agora-chat/agora/internal/config"
	"github.com/agora-chat/agora/internal/model/chat"
)

const systemPrompt = "You are the assistant in a development chat room. " +
	"Answer directly and concretely; keep replies short enough to read in a terminal."

// Generator produces real chat replies through an Ark model when
// credentials are configured. Review debates stay scripted either way; the
// generator only backs plain chat rooms.
type Generator struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewGenerator compiles the prompt-plus-model chain.
func NewGenerator(ctx context.Context, cfg config.AIConfig) (*Generator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Generator{chain: runnable}, nil
}

// Stream runs the chain and returns the token stream.
func (g *Generator) Stream(ctx context.Context, history []chat.Message, query string) (*schema.StreamReader[*schema.Message], error) {
	stream, err := g.chain.Stream(ctx, map[string]any{
		"system":  systemPrompt,
		"history": buildHistory(history),
		"query":   query,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stream chain output: %w", err)
	}
	log.Printf("[ai] streaming reply, history=%d", len(history))
	return stream, nil
}

func buildHistory(messages []chat.Message) []*schema.Message {
	const historyLimit = 10

	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
