package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPGateway sends SMS through a JSON-over-HTTP gateway.
type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type gatewaySendReq struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type gatewaySendResp struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (g *HTTPGateway) Send(ctx context.Context, recipient, body string) error {
	if g.Client == nil {
		return errors.New("gateway: http client is nil")
	}

	b, err := json.Marshal(gatewaySendReq{To: recipient, Message: body})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/messages", g.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway: status %d", resp.StatusCode)
	}

	var decoded gatewaySendResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != "" {
		return errors.New(decoded.Error)
	}
	return nil
}

// LogProvider is the dev fallback when no gateway is configured; it only
// logs the dispatch. Registered for every channel in that case.
type LogProvider struct {
	Log func(format string, v ...any)
}

func (p *LogProvider) Send(_ context.Context, recipient, body string) error {
	if p.Log != nil {
		p.Log("notify: dry-run delivery to=%s body=%q", recipient, body)
	}
	return nil
}
