package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"

	"github.com/sweetpotato0/normrag/contrib/provider"
)

// Provider implements provider.Generator against a local Ollama server.
type Provider struct {
	client *api.Client
	model  string
}

var _ provider.Generator = (*Provider)(nil)

// New creates a provider for model. An empty host falls back to OLLAMA_HOST.
func New(host, model string, httpClient *http.Client) (*Provider, error) {
	hostURL := envconfig.Host()
	if host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
		}
		hostURL = u
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Provider{client: api.NewClient(hostURL, httpClient), model: model}, nil
}

func (p *Provider) Complete(ctx context.Context, req provider.Request) (string, error) {
	stream := false
	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	genReq := api.GenerateRequest{
		Model:   p.model,
		System:  req.System,
		Prompt:  req.User,
		Stream:  &stream,
		Options: options,
	}

	var b strings.Builder
	err := p.client.Generate(ctx, &genReq, func(resp api.GenerateResponse) error {
		_, err := b.WriteString(resp.Response)
		return err
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return "", provider.ClassifyStatus("ollama", statusErr.StatusCode, err)
		}
		return "", fmt.Errorf("failed to generate response: %w", err)
	}
	return b.String(), nil
}
