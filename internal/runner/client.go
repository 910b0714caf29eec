package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vsavkov/sitesmith/internal/config"
)

// UnavailableError reports that the runner could not be reached or did not
// answer before the HTTP deadline.
type UnavailableError struct {
	Timeout bool
	Err     error
}

func (e *UnavailableError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("runner did not answer in time: %v", e.Err)
	}
	return fmt.Sprintf("cannot reach runner: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Client calls a runner service over HTTP.
type Client struct {
	baseURL      string
	secret       string
	buildTimeout time.Duration
	memoryLimit  string
	cpuLimit     string
	httpClient   *http.Client
	log          zerolog.Logger
}

func NewClient(cfg config.RunnerConfig, log zerolog.Logger) *Client {
	buildTimeout := time.Duration(cfg.BuildTimeoutS) * time.Second
	return &Client{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		secret:       cfg.Secret,
		buildTimeout: buildTimeout,
		memoryLimit:  cfg.MemoryLimit,
		cpuLimit:     cfg.CPULimit,
		// The HTTP deadline leaves headroom over the container deadline so a
		// slow but finishing build still reports through.
		httpClient: &http.Client{Timeout: buildTimeout + 60*time.Second},
		log:        log.With().Str("component", "runner-client").Logger(),
	}
}

// Build runs a full build of the project.
func (c *Client) Build(ctx context.Context, projectID, projectPath string) (*BuildResult, error) {
	return c.post(ctx, "/build", BuildRequest{
		ProjectID:   projectID,
		ProjectPath: projectPath,
		Timeout:     int(c.buildTimeout.Seconds()),
		MemoryLimit: c.memoryLimit,
		CPULimit:    c.cpuLimit,
	})
}

// Repair runs a build after a repair patch, carrying the prior failure logs.
func (c *Client) Repair(ctx context.Context, projectID, projectPath, errorLogs string) (*BuildResult, error) {
	return c.post(ctx, "/repair", BuildRequest{
		ProjectID:   projectID,
		ProjectPath: projectPath,
		ErrorLogs:   errorLogs,
		Timeout:     int(c.buildTimeout.Seconds()),
		MemoryLimit: c.memoryLimit,
		CPULimit:    c.cpuLimit,
	})
}

func (c *Client) post(ctx context.Context, path string, reqBody BuildRequest) (*BuildResult, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode runner request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build runner request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ue *url.Error
		timeout := errors.As(err, &ue) && ue.Timeout()
		c.log.Warn().Err(err).Str("path", path).Dur("after", time.Since(start)).Msg("runner unreachable")
		return nil, &UnavailableError{Timeout: timeout, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read runner response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runner returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result BuildResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode runner response: %w", err)
	}
	c.log.Debug().
		Str("path", path).
		Bool("success", result.Success).
		Int("exit_code", result.ExitCode).
		Dur("duration", time.Since(start)).
		Msg("runner call finished")
	return &result, nil
}
