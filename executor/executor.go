package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

var ErrUnavailable = errors.New("code execution unavailable")

// Request is sent to the sandbox. The sandbox itself is a black box; only the
// request/response shape is part of this system.
type Request struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"input,omitempty"`
}

type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	TimeMs   int64  `json:"timeMs"`
}

type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// HTTPRunner invokes a remote sandbox over HTTP.
type HTTPRunner struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

func NewHTTPRunner(url string, timeout time.Duration, logger *zerolog.Logger) *HTTPRunner {
	return &HTTPRunner{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

func (r *HTTPRunner) Run(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Result{}, errors.Join(ErrUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		r.logger.Error().Int("status", resp.StatusCode).Msg("sandbox returned non-200")
		return Result{}, fmt.Errorf("%w: sandbox status %d", ErrUnavailable, resp.StatusCode)
	}

	var res Result
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode run response: %w", err)
	}
	if res.TimeMs == 0 {
		res.TimeMs = time.Since(start).Milliseconds()
	}
	return res, nil
}

// NopRunner keeps the run endpoint total when no sandbox is configured.
type NopRunner struct{}

func (NopRunner) Run(_ context.Context, _ Request) (Result, error) {
	return Result{
		Stderr:   "code execution is not configured on this server",
		ExitCode: 1,
	}, nil
}
