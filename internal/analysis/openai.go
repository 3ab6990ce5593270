package analysis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

var analysisSchema = generateSchema[modelResponse]()

// OpenAI analyzes through the OpenAI Responses API with a strict JSON schema.
type OpenAI struct {
	client *openai.Client
	model  string
	// waits are the pauses before each retry of a rate-limited or failed call.
	waits []time.Duration
}

// NewOpenAI creates an OpenAI analyzer. Extra options are passed to the client.
func NewOpenAI(apiKey, model string, opts ...option.RequestOption) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("OpenAI model required")
	}
	// Retries are handled here, not by the SDK.
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAI{
		client: &client,
		model:  model,
		waits:  []time.Duration{2 * time.Second, 10 * time.Second},
	}, nil
}

// Name implements Analyzer.
func (o *OpenAI) Name() string { return "openai" }

// Analyze implements Analyzer.
func (o *OpenAI) Analyze(ctx context.Context, req Request) (*Result, error) {
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "SymptomAnalysis",
			Schema:      analysisSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Symptom analysis JSON"),
			Type:        "json_schema",
		},
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(1200),
		Instructions:    openai.String(systemPrompt),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(buildPrompt(req), responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	resp, err := o.callWithRetry(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai %s: %w", o.model, err)
	}
	res, err := parseModelOutput(resp.OutputText())
	if err != nil {
		return nil, fmt.Errorf("openai %s: %w", o.model, err)
	}
	return res, nil
}

func (o *OpenAI) callWithRetry(ctx context.Context, params responses.ResponseNewParams) (*responses.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := o.client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		if attempt >= len(o.waits) || !retryable(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.waits[attempt]):
		}
	}
}

// retryable reports whether err is a rate limit or a server-side failure.
func retryable(err error) bool {
	var apiErr *openai.Error
	if stderrors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "internal server error")
}

// generateSchema reflects T into a JSON schema that satisfies OpenAI's
// strict structured-output rules.
func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(err)
	}
	var schema map[string]any
	if err := json.Unmarshal(b, &schema); err != nil {
		panic(err)
	}
	ensureStrict(schema)
	return schema
}

// ensureStrict forbids additional properties on every object and marks all
// of its properties required.
func ensureStrict(schema map[string]any) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok && len(props) > 0 {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			schema["required"] = required
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				ensureStrict(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		ensureStrict(items)
	}
}
