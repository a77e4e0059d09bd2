// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// ProviderResult is the structured response of an external analysis
// provider.
type ProviderResult struct {
	RootCause  faults.Type `json:"root_cause"`
	Confidence float64     `json:"confidence"`
	Rationale  string      `json:"rationale"`
}

// Provider is the external analysis backend consulted for
// low-confidence candidates. Best effort: implementations may be
// unreachable, and the analyzer degrades gracefully when they are.
type Provider interface {
	Analyze(ctx context.Context, c faults.Candidate) (ProviderResult, error)
}

// =============================================================================
// OpenAI Provider
// =============================================================================

const analysisSystemPrompt = "You are an infrastructure fault analyst. " +
	"Given a JSON evidence bundle for a monitored entity, respond with a single JSON object " +
	`{"root_cause": one of ["crash","cpu_exhaustion","memory_exhaustion","disk_full","network_unreachable","unknown"], ` +
	`"confidence": number between 0 and 1, "rationale": short explanation}. Respond with JSON only.`

// OpenAIProvider implements Provider against the OpenAI chat API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds a provider from OPENAI_API_KEY and
// OPENAI_MODEL, falling back to the container secret path for the key,
// the same way the rest of the Aleutian stack resolves it.
func NewOpenAIProvider() (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI analysis provider", "model", model)
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Analyze sends the signal bundle to the model and parses its JSON
// verdict. Any transport or parse failure wraps
// faults.ErrDiagnosisUnavailable so the analyzer can degrade.
func (p *OpenAIProvider) Analyze(ctx context.Context, c faults.Candidate) (ProviderResult, error) {
	bundle, err := json.Marshal(map[string]any{
		"entity_id":  c.EntityID,
		"fault_type": c.Type,
		"severity":   c.Severity,
		"signals":    c.Signals,
	})
	if err != nil {
		return ProviderResult{}, fmt.Errorf("%w: marshal signal bundle: %v", faults.ErrDiagnosisUnavailable, err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(bundle)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		slog.Warn("OpenAI analysis call failed", "error", err)
		return ProviderResult{}, fmt.Errorf("%w: %v", faults.ErrDiagnosisUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return ProviderResult{}, fmt.Errorf("%w: provider returned no choices", faults.ErrDiagnosisUnavailable)
	}

	var result ProviderResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		return ProviderResult{}, fmt.Errorf("%w: unparseable provider response: %v", faults.ErrDiagnosisUnavailable, err)
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	slog.Debug("provider analysis received",
		"root_cause", result.RootCause,
		"confidence", result.Confidence,
	)
	return result, nil
}
