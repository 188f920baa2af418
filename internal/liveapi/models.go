package liveapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gupsammy/MacJarvis/internal/httputil"
)

// Model describes one entry of the models listing.
type Model struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

// SupportsLive reports whether the model accepts bidirectional sessions.
func (m Model) SupportsLive() bool {
	for _, method := range m.SupportedGenerationMethods {
		if method == "bidiGenerateContent" {
			return true
		}
	}
	return false
}

type listModelsResponse struct {
	Models        []Model `json:"models"`
	NextPageToken string  `json:"nextPageToken"`
}

const maxModelPages = 10

// ListModels fetches the models visible to the API key. A successful call
// proves the key is valid.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if c.key == nil || c.key.IsEmpty() {
		return nil, fmt.Errorf("list models: no API key")
	}
	base := strings.TrimRight(c.cfg.RESTURL, "/")
	if base == "" {
		return nil, fmt.Errorf("list models: rest url not configured")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	var (
		models []Model
		token  string
	)
	for page := 0; page < maxModelPages; page++ {
		q := url.Values{"key": {c.key.Reveal()}}
		if token != "" {
			q.Set("pageToken", token)
		}
		var resp listModelsResponse
		if err := httputil.GetJSON(ctx, client, base+"/models?"+q.Encode(), httputil.DefaultRetryConfig(), &resp); err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		models = append(models, resp.Models...)
		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}
	return models, nil
}
