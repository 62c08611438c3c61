// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plansource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

// systemPrompt constrains the model to the plan wire format. The vocabulary
// listing is generated so the prompt never drifts from the registry.
const systemPromptHeader = `You translate CAD modeling requests into JSON plans.
Respond with a single JSON object and nothing else, shaped as:
{"plan_id": "...", "metadata": {"natural_language_prompt": "...", "confidence_score": 0.0, "units": "mm"}, "operations": [{"op_id": "op_1", "op": "...", "params": {...}, "target_ref": "...", "dependencies": []}]}
Operation ids are op_1, op_2, ... in order. Dimensions are {"value": <number>, "unit": "<unit>"}.
The only valid values for "op" are: `

// chatClient is the slice of the OpenAI client the source needs. Narrowed
// for tests.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMSource asks a model to draft a plan from a natural-language request.
//
// The source is a producer only. Model output is decoded and handed back;
// sanitization, bounds checks, and everything else that makes a plan safe
// happen downstream, exactly as for a hand-written plan.
type LLMSource struct {
	client chatClient
	model  string
	log    *slog.Logger
}

// NewLLMSource builds a source over the OpenAI-compatible endpoint at
// baseURL (empty for the default endpoint).
func NewLLMSource(apiKey, baseURL, model string, log *slog.Logger) *LLMSource {
	if log == nil {
		log = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &LLMSource{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		log:    log,
	}
}

// Generate drafts a plan for the request text.
func (s *LLMSource) Generate(ctx context.Context, request string) (*plan.Plan, error) {
	kinds := plan.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPromptHeader + strings.Join(names, ", "),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: request,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("requesting plan: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	content := resp.Choices[0].Message.Content
	p, err := plan.Decode(strings.NewReader(content))
	if err != nil {
		s.log.Warn("model produced undecodable plan",
			slog.String("model", s.model),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("decoding model output: %w", err)
	}
	if p.Metadata.Prompt == "" {
		p.Metadata.Prompt = request
	}
	s.log.Info("plan generated",
		slog.String("model", s.model),
		slog.String("plan_id", p.ID),
		slog.Int("operations", len(p.Operations)))
	return p, nil
}
