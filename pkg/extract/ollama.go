package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
)

// OllamaAdapter extracts mentions via a locally-hosted Ollama server,
// using the format parameter to enforce the response schema.
type OllamaAdapter struct {
	client *api.Client
	model  string
}

type OllamaAdapterParams struct {
	BaseURL string
	Model   string

	// APIKey is sent as a bearer token for proxied deployments.
	// Optional.
	APIKey string
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

func NewOllamaAdapter(params OllamaAdapterParams) (*OllamaAdapter, error) {
	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := http.DefaultClient
	if params.APIKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{
					"Authorization": "Bearer " + params.APIKey,
				},
				rt: http.DefaultTransport,
			},
		}
	}

	return &OllamaAdapter{
		client: api.NewClient(u, httpClient),
		model:  params.Model,
	}, nil
}

func (a *OllamaAdapter) Extract(ctx context.Context, chunk common.TextChunk) (Extraction, error) {
	formatBytes, err := json.Marshal(GenerateSchema(&extractResponse{}))
	if err != nil {
		return Extraction{}, err
	}
	var format json.RawMessage = formatBytes

	stream := false
	req := &api.ChatRequest{
		Model: a.model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: chunk.Text},
		},
		Stream:  &stream,
		Format:  format,
		Options: map[string]any{"temperature": 0.1},
	}

	var final api.ChatResponse
	if err := a.client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
		}
		return nil
	}); err != nil {
		if ctx.Err() != nil {
			return Extraction{}, ctx.Err()
		}
		return Extraction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if final.Message.Content == "" {
		return Extraction{}, fmt.Errorf("%w: empty response", ErrMalformed)
	}

	var parsed extractResponse
	if err := UnmarshalFlexible(final.Message.Content, &parsed); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromResponse(parsed), nil
}
