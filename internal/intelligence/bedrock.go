package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ignite/outreach-monitor/internal/domain"
)

// DefaultModelID is used when no model is configured.
const DefaultModelID = "anthropic.claude-3-sonnet-20240229-v1:0"

// invokeTimeout bounds a single model call. A hung call surfaces as a
// collaborator failure, not a stuck worker.
const invokeTimeout = 60 * time.Second

// BedrockMessage is a message in the Anthropic messages format.
type BedrockMessage struct {
	Role    string                `json:"role"`
	Content []BedrockContentBlock `json:"content"`
}

// BedrockContentBlock is one content block within a message.
type BedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []BedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// BedrockService implements Classifier and Drafter on AWS Bedrock (Claude).
// All prospect text stays within AWS - no external API calls.
type BedrockService struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
}

// NewBedrockService creates the Bedrock-backed collaborator service.
func NewBedrockService(ctx context.Context, region, modelID string) (*BedrockService, error) {
	if region == "" {
		region = "us-east-1"
	}
	if modelID == "" {
		modelID = DefaultModelID
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	svc := &BedrockService{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
		region:  region,
	}
	log.Printf("[Intelligence] Initialized Bedrock with model=%s, region=%s", modelID, region)
	return svc, nil
}

// invoke sends one prompt to the model and returns the raw text response.
func (s *BedrockService) invoke(ctx context.Context, system, user string, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, invokeTimeout)
	defer cancel()

	request := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        1024,
		System:           system,
		Temperature:      temperature,
		Messages: []BedrockMessage{
			{Role: "user", Content: []BedrockContentBlock{{Type: "text", Text: user}}},
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := s.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(s.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return "", fmt.Errorf("Bedrock API error: %w", err)
	}

	var response bedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var text string
	for _, content := range response.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}
	return text, nil
}

const classifierSystemPrompt = `You are an expert Sales Intent Analyst.
Analyze the following email reply from a prospect and classify their intent.

Classification Categories:
- POSITIVE: Interested in a meeting, asking for a demo, clear buying signal, or asking for a discovery call.
- NEUTRAL: Asking a clarifying question, asking for more info, or not yet convinced but not a rejection.
- NEGATIVE: Explicit rejection, "not interested", "remove me", or clearly stating they are not the right person / no budget.

Provide the output in strict JSON format:
{
    "intent": "POSITIVE" | "NEUTRAL" | "NEGATIVE",
    "confidence": 0.0 to 1.0,
    "reasoning": "brief explanation"
}`

// Classify analyzes a prospect reply. Any failure - transport, malformed
// JSON, out-of-set intent value - degrades to a low-confidence NEUTRAL.
func (s *BedrockService) Classify(ctx context.Context, replyText string) IntentResult {
	raw, err := s.invoke(ctx, classifierSystemPrompt, "Prospect Reply:\n\n"+replyText, 0)
	if err != nil {
		log.Printf("[Intelligence] Classifier error: %v", err)
		return NeutralFallback(fmt.Sprintf("classifier error: %v", err))
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		log.Printf("[Intelligence] Classifier returned unparseable output: %v", err)
		return NeutralFallback(fmt.Sprintf("unparseable classifier output: %v", err))
	}

	intent, err := domain.ParseIntent(parsed.Intent)
	if err != nil {
		log.Printf("[Intelligence] Classifier returned out-of-set intent: %v", err)
		return NeutralFallback(err.Error())
	}

	log.Printf("[Intelligence] Classified intent=%s confidence=%.2f", intent, parsed.Confidence)
	return IntentResult{Intent: intent, Confidence: parsed.Confidence, Reasoning: parsed.Reasoning}
}

const responseSystemPrompt = `You are a Principal Sales Correspondent.
Your task is to draft a personalized reply to a prospect based on their intent.

Guidelines:
- If intent is POSITIVE: Focus on scheduling a 15-min discovery call. Suggest 2-3 specific times or ask for their calendar.
- If intent is NEUTRAL: Address their specific question/concerns from the reply. Pivot back to the value prop of the original pitch.
- Tone: High-end, professional, yet empathetic and human.

Provide the output in JSON format:
{
    "subject": "Re: <original subject>",
    "body": "The email body text here."
}`

// DraftResponse drafts a reply to an inbound message. A nil draft with nil
// error means the model produced nothing usable; callers treat that as a
// no-op.
func (s *BedrockService) DraftResponse(ctx context.Context, intent IntentResult, original domain.Email, prospectReply string) (*Draft, error) {
	user := fmt.Sprintf(
		"Intent: %s (Reason: %s)\n\nOriginal Pitch Subject: %s\n\nOriginal Pitch:\n%s\n\nProspect's Reply:\n%s\n\nDraft the response now.",
		intent.Intent, intent.Reasoning, original.Subject, original.Body, prospectReply)

	raw, err := s.invoke(ctx, responseSystemPrompt, user, 0.7)
	if err != nil {
		log.Printf("[Intelligence] Response drafter error: %v", err)
		return nil, nil
	}
	return parseDraft(raw)
}

const reminderSystemPrompt = `You are a Principal Sales Correspondent.
No reply was received to the previous email. Draft a polite, professional follow-up.

Guidelines:
- REMINDER_1: "Just floating this to the top of your inbox..." very brief.
- REMINDER_2: "One last check-in before I assume this isn't a priority..." strictly professional.
- Do not be nagging. Be helpful.

Output JSON:
{
    "subject": "Re: <original subject>",
    "body": "Your draft here."
}`

// DraftReminder drafts a follow-up for a reminder stage.
func (s *BedrockService) DraftReminder(ctx context.Context, stage domain.TimerType, original domain.Email) (*Draft, error) {
	user := fmt.Sprintf(
		"Stage: %s\n\nOriginal Subject: %s\n\nOriginal Email Body:\n%s\n\nDraft the reminder.",
		stage, original.Subject, original.Body)

	raw, err := s.invoke(ctx, reminderSystemPrompt, user, 0.7)
	if err != nil {
		log.Printf("[Intelligence] Reminder drafter error: %v", err)
		return nil, nil
	}
	return parseDraft(raw)
}

func parseDraft(raw string) (*Draft, error) {
	var draft Draft
	if err := json.Unmarshal([]byte(extractJSON(raw)), &draft); err != nil {
		log.Printf("[Intelligence] Drafter returned unparseable output: %v", err)
		return nil, nil
	}
	if draft.Subject == "" && draft.Body == "" {
		return nil, nil
	}
	return &draft, nil
}
