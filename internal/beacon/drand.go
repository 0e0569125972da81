package beacon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"raffleScope/internal/model"
)

// ErrInvalidResponse is returned when the beacon answers without a usable round.
var ErrInvalidResponse = errors.New("invalid beacon response")

// Config configures the drand client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// Client fetches the latest published drand round.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type latestResponse struct {
	Round      uint64 `json:"round"`
	Randomness string `json:"randomness"`
	Signature  string `json:"signature"`
}

// NewClient builds a drand client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.drand.sh"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// Latest returns the most recent published round. Any missing field is an error.
func (c *Client) Latest(ctx context.Context) (model.RandomnessSample, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.RandomnessSample{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/public/latest", nil)
	if err != nil {
		return model.RandomnessSample{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.RandomnessSample{}, fmt.Errorf("fetch drand: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return model.RandomnessSample{}, fmt.Errorf("read drand response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.RandomnessSample{}, fmt.Errorf("drand status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out latestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return model.RandomnessSample{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.Round == 0 || out.Randomness == "" || out.Signature == "" {
		return model.RandomnessSample{}, fmt.Errorf("%w: round=%d randomness=%t signature=%t",
			ErrInvalidResponse, out.Round, out.Randomness != "", out.Signature != "")
	}

	c.logger.Debug("drand round fetched", zap.Uint64("round", out.Round))
	return model.RandomnessSample{
		Round:      out.Round,
		Randomness: out.Randomness,
		Signature:  out.Signature,
	}, nil
}
