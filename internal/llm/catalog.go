package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// catalogResponse is the provider's model catalog wire format.
type catalogResponse struct {
	Data []catalogModel `json:"data"`
}

type catalogModel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Pricing struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
}

// ListModels retrieves the remote provider's model catalog. Entries without
// an identifier are dropped. Free-tier models are partitioned before paid
// ones; within each partition the provider's order is preserved.
func (c *CompletionClient) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model catalog error (status %d): %s", resp.StatusCode, string(body))
	}

	var catalog catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	models := make([]Model, 0, len(catalog.Data))
	for _, m := range catalog.Data {
		if m.ID == "" {
			continue
		}
		name := m.Name
		if name == "" {
			name = m.ID
		}
		models = append(models, Model{
			ID:   m.ID,
			Name: name,
			Free: isFreeTier(m),
		})
	}

	// Stable partition only: no alphabetic resort beyond free-before-paid.
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].Free && !models[j].Free
	})

	return models, nil
}

// isFreeTier recognizes the provider's free-tier markers: a ":free" id
// suffix or zero pricing on both prompt and completion.
func isFreeTier(m catalogModel) bool {
	if strings.HasSuffix(m.ID, ":free") {
		return true
	}
	return m.Pricing.Prompt == "0" && m.Pricing.Completion == "0"
}
