// Package intelligence holds the LLM-backed conversation collaborators:
// the intent classifier and the response/reminder drafter. Both are pure
// request/response calls with no side effects of their own; the
// orchestrator owns all persistence.
package intelligence

import (
	"context"
	"strings"

	"github.com/ignite/outreach-monitor/internal/domain"
)

// IntentResult is the classifier's verdict on an inbound reply.
type IntentResult struct {
	Intent     domain.Intent `json:"intent"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning"`
}

// NeutralFallback is returned whenever classification fails. A low-confidence
// NEUTRAL keeps the conversation alive pending human review instead of
// silently dropping it.
func NeutralFallback(reason string) IntentResult {
	return IntentResult{
		Intent:     domain.IntentNeutral,
		Confidence: 0,
		Reasoning:  reason,
	}
}

// Classifier classifies the intent of a prospect's reply. Implementations
// must degrade to NeutralFallback on failure rather than surface an error;
// the signature encodes that contract.
type Classifier interface {
	Classify(ctx context.Context, replyText string) IntentResult
}

// Draft is a proposed outbound message awaiting human approval.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Drafter produces reply and reminder drafts. A (nil, nil) return means
// "no draft produced": callers treat it as a no-op, never as a retryable
// failure, since there is nothing new to retry.
type Drafter interface {
	DraftResponse(ctx context.Context, intent IntentResult, original domain.Email, prospectReply string) (*Draft, error)
	DraftReminder(ctx context.Context, stage domain.TimerType, original domain.Email) (*Draft, error)
}

// extractJSON strips markdown code fences and any prose around the first
// JSON object in an LLM response.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "```json"); idx >= 0 {
		content = content[idx+len("```json"):]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	} else if idx := strings.Index(content, "```"); idx >= 0 {
		content = content[idx+3:]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	}
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") {
		start := strings.Index(content, "{")
		end := strings.LastIndex(content, "}")
		if start >= 0 && end > start {
			content = content[start : end+1]
		}
	}
	return content
}
