package estimator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"routedesk/internal/model"
)

const defaultTimeout = 20 * time.Second

type HTTPConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// RPS caps outbound calls per second; zero disables throttling.
	RPS float64
}

// HTTPEstimator posts the ordered stops to a remote estimation service and
// decodes its annotations. It never retries.
type HTTPEstimator struct {
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPEstimator(cfg HTTPConfig) *HTTPEstimator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return &HTTPEstimator{
		url:     strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: lim,
	}
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("estimator status %d: %s", e.Code, e.Body)
}

type wireETA struct {
	ID      string `json:"id"`
	ETA     string `json:"eta"`
	Traffic string `json:"traffic"`
}

type wireResult struct {
	Summary string    `json:"summary"`
	ETAs    []wireETA `json:"etas"`
}

func (h *HTTPEstimator) Estimate(ctx context.Context, req Request) (Result, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("estimator throttle: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode estimate request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(hreq)
	if err != nil {
		return Result{}, fmt.Errorf("estimator request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var decoded wireResult
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode estimate response: %w", err)
	}
	return decoded.toResult()
}

func (w wireResult) toResult() (Result, error) {
	out := Result{Summary: strings.TrimSpace(w.Summary), ETAs: make([]model.Annotation, 0, len(w.ETAs))}
	for _, e := range w.ETAs {
		if e.ID == "" {
			return Result{}, errors.New("decode estimate response: eta without id")
		}
		tr, err := model.ParseTraffic(e.Traffic)
		if err != nil {
			return Result{}, fmt.Errorf("decode estimate response: stop %s: %w", e.ID, err)
		}
		out.ETAs = append(out.ETAs, model.Annotation{StopID: e.ID, ETA: strings.TrimSpace(e.ETA), Traffic: tr})
	}
	return out, nil
}
