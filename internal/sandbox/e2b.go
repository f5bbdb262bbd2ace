package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/openraccoon/raccoon/internal/observability"
	"github.com/openraccoon/raccoon/pkg/models"
)

const (
	defaultE2BAPIURL = "https://api.e2b.dev"

	// envdPort is the port the per-sandbox execution daemon listens on;
	// it is part of the daemon hostname.
	envdPort = 49999
)

// E2BConfig configures the E2B backend client.
type E2BConfig struct {
	APIKey string

	// APIURL is the control-plane base URL.
	APIURL string

	// DaemonURL overrides the per-sandbox execution daemon URL. When
	// empty the daemon hostname is derived from the sandbox id.
	DaemonURL string

	HTTPClient *http.Client
	Logger     *observability.Logger
}

// E2BBackend is a hand-written HTTP client for the E2B sandbox API:
// control-plane sandbox lifecycle plus the per-sandbox execution daemon
// that streams NDJSON output events.
type E2BBackend struct {
	apiKey     string
	apiURL     string
	daemonURL  string
	httpClient *http.Client
	logger     *observability.Logger
}

// NewE2BBackend creates the backend client.
func NewE2BBackend(cfg E2BConfig) *E2BBackend {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultE2BAPIURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	return &E2BBackend{
		apiKey:     cfg.APIKey,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		daemonURL:  strings.TrimRight(cfg.DaemonURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

type createSandboxRequest struct {
	TemplateID     string            `json:"templateID"`
	Timeout        int               `json:"timeout,omitempty"`
	CPUCount       int               `json:"cpuCount,omitempty"`
	MemoryMB       int               `json:"memoryMB,omitempty"`
	NetworkEnabled bool              `json:"networkEnabled"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type createSandboxResponse struct {
	SandboxID string `json:"sandboxID"`
}

// Create provisions a sandbox via the control plane.
func (b *E2BBackend) Create(ctx context.Context, template string, limits models.SandboxLimits) (string, error) {
	body, _ := json.Marshal(createSandboxRequest{
		TemplateID:     template,
		Timeout:        limits.TimeoutSeconds,
		CPUCount:       limits.CPUCount,
		MemoryMB:       limits.MemoryMB,
		NetworkEnabled: limits.NetworkEnabled,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+"/sandboxes", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sandbox create: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", b.apiError("sandbox create", resp)
	}

	var created createSandboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("sandbox create: decode response: %w", err)
	}
	if created.SandboxID == "" {
		return "", fmt.Errorf("sandbox create: response carries no sandbox id")
	}
	return created.SandboxID, nil
}

type executeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// Execute posts code to the sandbox daemon and streams its NDJSON
// output as events. Lines that do not decode are logged and skipped.
func (b *E2BBackend) Execute(ctx context.Context, sandboxID, code, language string) (<-chan models.SandboxEvent, error) {
	body, _ := json.Marshal(executeRequest{Code: code, Language: language})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.daemonBase(sandboxID)+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox execute: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, b.apiError("sandbox execute", resp)
	}

	events := make(chan models.SandboxEvent, 64)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var ev models.SandboxEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				b.logger.Warn(ctx, "undecodable sandbox event line",
					"sandbox_id", sandboxID, "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case events <- models.SandboxEvent{
				Type:    models.SandboxError,
				Code:    "stream_error",
				Message: err.Error(),
			}:
			case <-ctx.Done():
			}
		}
	}()
	return events, nil
}

// Upload writes a file into the sandbox via the daemon's file endpoint.
func (b *E2BBackend) Upload(ctx context.Context, sandboxID, path string, content []byte) error {
	uploadURL := b.daemonBase(sandboxID) + "/files?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if b.apiKey != "" {
		req.Header.Set("X-API-Key", b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return b.apiError("sandbox upload", resp)
	}
	return nil
}

// Destroy releases a sandbox via the control plane. A missing sandbox
// is not an error; the resource is already gone.
func (b *E2BBackend) Destroy(ctx context.Context, sandboxID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.apiURL+"/sandboxes/"+url.PathEscape(sandboxID), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox destroy: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return b.apiError("sandbox destroy", resp)
	}
}

func (b *E2BBackend) daemonBase(sandboxID string) string {
	if b.daemonURL != "" {
		return b.daemonURL
	}
	return fmt.Sprintf("https://%d-%s.e2b.dev", envdPort, sandboxID)
}

func (b *E2BBackend) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("X-API-Key", b.apiKey)
	}
}

func (b *E2BBackend) apiError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: HTTP %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
}
