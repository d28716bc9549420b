package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Part is one piece of a multi-part user message.
type Part = openai.ChatCompletionContentPartUnionParam

// Client wraps the OpenAI SDK and throttles every call through one limiter.
type Client struct {
	api     openai.Client
	limiter *rate.Limiter
}

// New builds a client. requestsPerMinute <= 0 disables throttling.
func New(apiKey string, requestsPerMinute int, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return &Client{
		api:     openai.NewClient(opts...),
		limiter: limiter,
	}
}

// NewFromEnv reads OPENAI_API_KEY.
func NewFromEnv(requestsPerMinute int) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	return New(apiKey, requestsPerMinute), nil
}

// GenerateSchema reflects a strict JSON schema for structured outputs.
func GenerateSchema[T any]() interface{} {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Complete sends a single user prompt and returns the text reply.
func (c *Client) Complete(ctx context.Context, model string, temperature float64, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(model),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", errors.Wrap(err, "openai chat")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Structured sends a multi-part user message (text and images) and decodes
// the schema-constrained reply into out.
func (c *Client) Structured(ctx context.Context, model, name string, schema interface{}, parts []Part, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String("Structured data response"),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
		Model:       openai.ChatModel(model),
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "openai structured chat")
	}
	if len(resp.Choices) == 0 {
		return errors.New("openai returned no choices")
	}

	raw := CleanJSON(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errors.Wrapf(err, "parse %s response (raw: %.200s)", name, raw)
	}
	return nil
}

// Moderation is one moderation result decoded from the raw API payload.
type Moderation struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// Moderate runs text through the moderation endpoint.
func (c *Client) Moderate(ctx context.Context, model, text string) (*Moderation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.api.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.ModerationModel(model),
	})
	if err != nil {
		return nil, errors.Wrap(err, "openai moderation")
	}
	if len(resp.Results) == 0 {
		return nil, errors.New("moderation returned no results")
	}

	// category names contain slashes, so decode the raw result instead of the typed struct
	var m Moderation
	if err := json.Unmarshal([]byte(resp.Results[0].RawJSON()), &m); err != nil {
		return nil, errors.Wrap(err, "decode moderation result")
	}
	return &m, nil
}

// Text wraps a string as a message part.
func Text(s string) Part {
	return openai.TextContentPart(s)
}

// Image reads an image file and inlines it as a base64 data URL part.
// detail is "low", "high" or "auto".
func Image(path, detail string) (Part, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Part{}, errors.Wrap(err, "read frame")
	}
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		mime = "image/png"
	}
	url := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
		URL:    url,
		Detail: detail,
	}), nil
}

// CleanJSON strips markdown fences if the model wraps its reply in ```json ... ```
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
