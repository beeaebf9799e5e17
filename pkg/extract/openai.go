package extract

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
)

// OpenAIAdapter extracts mentions via the chat completions API with a
// strict JSON schema response format.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

type OpenAIAdapterParams struct {
	APIKey string
	Model  string

	// BaseURL points the client at a compatible endpoint. Optional.
	BaseURL string
}

func NewOpenAIAdapter(params OpenAIAdapterParams) *OpenAIAdapter {
	options := []option.RequestOption{
		option.WithAPIKey(params.APIKey),
		option.WithMaxRetries(0), // retrying is the stage's job
	}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	client := openai.NewClient(options...)

	return &OpenAIAdapter{
		client: &client,
		model:  params.Model,
	}
}

func (a *OpenAIAdapter) Extract(ctx context.Context, chunk common.TextChunk) (Extraction, error) {
	schema := GenerateSchema(&extractResponse{})
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "extract_entities_and_relationships",
		Description: openai.String("Extract entities and relationships from a financial news passage."),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}

	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(chunk.Text),
		},
		Temperature: openai.Float(0.1),
	}

	response, err := a.client.Chat.Completions.New(ctx, body)
	if err != nil {
		if ctx.Err() != nil {
			return Extraction{}, ctx.Err()
		}
		return Extraction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(response.Choices) == 0 {
		return Extraction{}, fmt.Errorf("%w: no choices in response", ErrMalformed)
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return Extraction{}, fmt.Errorf("%w: empty response (finish_reason: %s)",
			ErrMalformed, response.Choices[0].FinishReason)
	}

	var parsed extractResponse
	if err := UnmarshalFlexible(message, &parsed); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromResponse(parsed), nil
}

func fromResponse(parsed extractResponse) Extraction {
	var extraction Extraction
	for _, entity := range parsed.Entities {
		if entity.Name == "" {
			continue
		}
		extraction.Mentions = append(extraction.Mentions, common.CandidateMention{
			Name:       entity.Name,
			Type:       entity.Type,
			Confidence: clamp01(entity.Confidence),
		})
	}
	for _, rel := range parsed.Relationships {
		extraction.Relations = append(extraction.Relations, common.CandidateRelation{
			Subject:    rel.Subject,
			Predicate:  rel.Predicate,
			Object:     rel.Object,
			Confidence: clamp01(rel.Confidence),
		})
	}
	return extraction
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
