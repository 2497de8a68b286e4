// Package client batches frames into the length-prefixed wire format and posts them to an ingest server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frame-ingest/internal/wire"
)

// DefaultBatchSize matches the producer's default of sixty frames per request.
const DefaultBatchSize = 60

// ErrRejected is returned when the server answers with anything other than 200 OK.
var ErrRejected = errors.New("server rejected batch")

// Config controls the Client.
type Config struct {
	URL       string
	APIKey    string
	BatchSize int
	Timeout   time.Duration
}

// Client accumulates frames and sends them in batches.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	pending [][]byte
	sent    int
}

// New validates cfg and returns a Client. A nil httpClient uses a client with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("client url is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		logger:  logger,
		pending: make([][]byte, 0, cfg.BatchSize),
	}, nil
}

// Add buffers a copy of data and sends the batch once it reaches the configured size.
func (c *Client) Add(ctx context.Context, data []byte) error {
	c.mu.Lock()
	c.pending = append(c.pending, bytes.Clone(data))
	if len(c.pending) < c.cfg.BatchSize {
		c.mu.Unlock()
		return nil
	}
	batch := c.pending
	c.pending = make([][]byte, 0, c.cfg.BatchSize)
	c.mu.Unlock()
	return c.post(ctx, batch)
}

// Flush sends any buffered frames.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = make([][]byte, 0, c.cfg.BatchSize)
	c.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return c.post(ctx, batch)
}

// Send posts frames in batches of the configured size, bypassing the buffer.
func (c *Client) Send(ctx context.Context, frames [][]byte) error {
	for start := 0; start < len(frames); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(frames))
		if err := c.post(ctx, frames[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Sent reports how many frames the server has acknowledged.
func (c *Client) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func (c *Client) post(ctx context.Context, batch [][]byte) error {
	payload, err := wire.EncodeBatch(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body failed", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.mu.Lock()
	c.sent += len(batch)
	c.mu.Unlock()
	c.logger.Debug("batch sent",
		zap.Int("frames", len(batch)),
		zap.Int("bytes", len(payload)),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("accepted", resp.Header.Get("X-Frames-Accepted")),
	)
	return nil
}
