package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"naming_events/pkg/config"
	"naming_events/pkg/event"
)

const serviceName = "metrics oracle"

type queryResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
	Data      struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
		} `json:"result"`
	} `json:"data"`
}

// Prometheus reads names in use from a label of an instant query
type Prometheus struct {
	client   *http.Client
	endpoint string
	query    string
	label    string
	cacheTTL time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	group    singleflight.Group
	mu       sync.RWMutex
	cached   map[string]struct{}
	cachedAt time.Time
}

// NewPrometheus creates an oracle for cfg.URL
func NewPrometheus(cfg config.OracleConfig, clock clockwork.Clock, logger *zap.Logger) (*Prometheus, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid oracle url %q", cfg.URL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/api/v1/query"

	return &Prometheus{
		client:   &http.Client{Timeout: cfg.Timeout},
		endpoint: base.String(),
		query:    cfg.Query,
		label:    cfg.Label,
		cacheTTL: cfg.CacheTTL,
		clock:    clock,
		logger:   logger,
	}, nil
}

// ExistingNames returns the lowercased label values. Concurrent callers
// share one request; a fresh cached result skips the request entirely.
func (p *Prometheus) ExistingNames(ctx context.Context) (map[string]struct{}, error) {
	if names, ok := p.fromCache(); ok {
		return names, nil
	}

	ch := p.group.DoChan("names", func() (any, error) {
		return p.fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, event.NewExternal(serviceName, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]struct{}), nil
	}
}

func (p *Prometheus) fromCache() (map[string]struct{}, bool) {
	if p.cacheTTL <= 0 {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached == nil || p.clock.Since(p.cachedAt) > p.cacheTTL {
		return nil, false
	}
	return p.cached, true
}

func (p *Prometheus) fetch(ctx context.Context) (map[string]struct{}, error) {
	start := p.clock.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.endpoint+"?"+url.Values{"query": {p.query}}.Encode(), nil)
	if err != nil {
		return nil, event.NewExternal(serviceName, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("Oracle request failed", zap.Error(err))
		return nil, event.NewExternal(serviceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.logger.Warn("Oracle returned error status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, event.NewExternal(serviceName, fmt.Errorf("status %d", resp.StatusCode))
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, event.NewExternal(serviceName, fmt.Errorf("decoding response: %w", err))
	}
	if qr.Status != "success" {
		return nil, event.NewExternal(serviceName, fmt.Errorf("query %s: %s", qr.ErrorType, qr.Error))
	}

	names := make(map[string]struct{}, len(qr.Data.Result))
	for _, r := range qr.Data.Result {
		if v, ok := r.Metric[p.label]; ok && v != "" {
			names[strings.ToLower(v)] = struct{}{}
		}
	}

	p.mu.Lock()
	p.cached = names
	p.cachedAt = p.clock.Now()
	p.mu.Unlock()

	p.logger.Debug("Fetched existing names",
		zap.Int("count", len(names)),
		zap.Duration("latency", p.clock.Since(start)))
	return names, nil
}
