package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/msageha/warden/internal/model"
)

// Request describes a task that escalated to human approval. Providers relay
// it to wherever the humans are; they do not decide anything themselves.
type Request struct {
	TaskID      string `json:"task_id"`
	Command     string `json:"command"`
	Tier        string `json:"tier,omitempty"`
	RequestedAt string `json:"requested_at"`
}

// Provider delivers approval requests to a human channel. Implementations
// own their latency and failure modes; the queue invokes them from a
// separate goroutine and treats a delivery failure as a logged event, never
// as a reason to stop scanning. Approval itself always arrives through the
// marker files, not through the provider.
type Provider interface {
	Name() string
	RequestApproval(ctx context.Context, req Request) error
}

// NewProvider selects an implementation from config. The config is validated
// before this runs, so an unknown name here is a programming error surfaced
// as a plain error.
func NewProvider(cfg model.ApprovalConfig, out io.Writer) (Provider, error) {
	switch cfg.Provider {
	case "log":
		return NewLogProvider(out), nil
	case "webhook":
		return NewWebhookProvider(cfg.WebhookURL, time.Duration(cfg.TimeoutSec)*time.Second), nil
	}
	return nil, fmt.Errorf("unknown approval provider %q", cfg.Provider)
}

// LogProvider prints the approval request where the operator is looking (the
// serve console by default), with the exact command to approve it.
type LogProvider struct {
	out io.Writer
}

func NewLogProvider(out io.Writer) *LogProvider {
	return &LogProvider{out: out}
}

func (p *LogProvider) Name() string {
	return "log"
}

func (p *LogProvider) RequestApproval(_ context.Context, req Request) error {
	tier := req.Tier
	if tier == "" {
		tier = "-"
	}
	_, err := fmt.Fprintf(p.out, "%s approval required task=%s tier=%s command=%q  approve with: warden approve %s\n",
		time.Now().Format(time.RFC3339), req.TaskID, tier, req.Command, req.TaskID)
	return err
}

// WebhookProvider POSTs the request as JSON to a configured endpoint.
// Whatever sits behind the URL (chat bot, ticket system, pager) is expected
// to get a human to run warden approve; delivery here is fire-and-forget
// with a bounded timeout.
type WebhookProvider struct {
	url    string
	client *http.Client
}

func NewWebhookProvider(url string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *WebhookProvider) Name() string {
	return "webhook"
}

func (p *WebhookProvider) RequestApproval(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal approval request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("deliver approval request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
