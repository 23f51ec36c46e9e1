// ABOUTME: Language-model classifier used when the quick heuristic is unsure
// ABOUTME: Forces a single tool-call result, validates it and degrades to a fallback on any failure
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/harperreed/rolodex/models"
)

const (
	defaultModel         = "gpt-4o-mini"
	defaultTimeout       = 15 * time.Second
	defaultMaxInputChars = 2000
)

// ChatCompleter is the subset of the OpenAI client the classifier needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ModelClassifier refines a weak quick result. It never returns an error;
// failures come back as a Fallback.
type ModelClassifier interface {
	Classify(ctx context.Context, in Input, quick QuickMatch) Result
}

type AIConfig struct {
	Model         string
	Timeout       time.Duration
	MaxInputChars int
}

type AIClassifier struct {
	client   ChatCompleter
	model    string
	timeout  time.Duration
	maxChars int
	schema   *jsonschema.Schema
	breaker  *gobreaker.CircuitBreaker
	log      zerolog.Logger
}

// NewOpenAIClient builds a client for the OpenAI API or a compatible endpoint.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func NewAIClassifier(client ChatCompleter, cfg AIConfig, log zerolog.Logger) (*AIClassifier, error) {
	schema, err := compileClassificationSchema()
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = defaultMaxInputChars
	}

	logger := log.With().Str("component", "ai_classifier").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-classifier",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &AIClassifier{
		client:   client,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		maxChars: cfg.MaxInputChars,
		schema:   schema,
		breaker:  breaker,
		log:      logger,
	}, nil
}

func (a *AIClassifier) Classify(ctx context.Context, in Input, quick QuickMatch) Result {
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.request(ctx, in)
	})
	if err != nil {
		a.log.Warn().Err(err).Str("sender", in.SenderAddress).Msg("model classification failed, using fallback")
		return fallbackFrom(quick, err)
	}

	args := out.(*toolArguments)
	return AIMatch{
		Classification: Classification{
			SourceType: models.SourceType(args.SourceType),
			Tags:       models.MergeSet(models.NormalizeTags(args.Tags), quick.Tags),
			Confidence: models.ClampConfidence(args.Confidence),
			Reasoning:  args.Reasoning,
		},
		Model: a.model,
	}
}

func (a *AIClassifier) request(ctx context.Context, in Input) (*toolArguments, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: a.userPrompt(in),
			},
		},
		Tools: []openai.Tool{
			{
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionDefinition{
					Name:        classificationToolName,
					Description: "Record the single best classification of the sender",
					Parameters:  toolParameters(),
				},
			},
		},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: classificationToolName},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) != 1 {
		return nil, fmt.Errorf("model returned %d tool calls, want exactly 1", len(calls))
	}
	if calls[0].Function.Name != classificationToolName {
		return nil, fmt.Errorf("model called unexpected tool %q", calls[0].Function.Name)
	}

	return decodeToolArguments(a.schema, calls[0].Function.Arguments)
}

const systemPrompt = `You classify the sender of an email received by a parent. Decide which role the sender plays for the family: coach, teacher, school_admin, team, club, therapist, medical, vendor or other. Extract short lowercase tags for sports, school subjects or activities mentioned. Report a confidence between 0 and 1 and one sentence of reasoning.`

func (a *AIClassifier) userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sender address: %s\n", in.SenderAddress)
	if in.SenderName != "" {
		fmt.Fprintf(&b, "Sender name: %s\n", in.SenderName)
	}
	if in.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", in.Subject)
	}
	fmt.Fprintf(&b, "Signature:\n%s\n", truncateRunes(in.SignatureText, a.maxChars))
	return b.String()
}

func fallbackFrom(quick QuickMatch, cause error) Fallback {
	return Fallback{
		Classification: Classification{
			SourceType: quick.SourceType,
			Tags:       quick.Tags,
			Confidence: FallbackConfidence,
			Reasoning:  "fallback: model unavailable, kept heuristic guess (" + quick.Reasoning + ")",
		},
		Cause: cause,
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
