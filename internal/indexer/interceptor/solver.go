package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// SolverConfig configures the FlareSolverr challenge solver.
type SolverConfig struct {
	URL        string        `mapstructure:"url"`         // e.g. http://localhost:8191
	MaxTimeout time.Duration `mapstructure:"max_timeout"` // time FlareSolverr may spend on one challenge
	Tags       []string      `mapstructure:"tags"`        // restrict to indexers carrying one of these tags; empty = all
}

// DefaultSolverConfig returns a disabled solver configuration.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{MaxTimeout: 60 * time.Second}
}

type solverRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int64  `json:"maxTimeout"`
	PostData   string `json:"postData,omitempty"`
}

type solverResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Solution solverSolution `json:"solution"`
}

type solverSolution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Response  string            `json:"response"`
	Cookies   []solverCookie    `json:"cookies"`
	UserAgent string            `json:"userAgent"`
}

type solverCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// clearance is what a solved challenge leaves behind for one host.
type clearance struct {
	cookies   []*http.Cookie
	userAgent string
}

// Solver resubmits challenged requests through FlareSolverr and replays the
// resulting clearance cookies and user agent on later requests to the same
// host.
type Solver struct {
	cfg    SolverConfig
	client *http.Client
	logger zerolog.Logger

	mu         sync.RWMutex
	clearances map[string]clearance
}

// NewSolver creates a solver. A nil client uses a plain http.Client; it must
// not route through a Chain containing this solver.
func NewSolver(cfg SolverConfig, client *http.Client, logger zerolog.Logger) *Solver {
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = DefaultSolverConfig().MaxTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.MaxTimeout + 10*time.Second}
	}
	return &Solver{
		cfg:        cfg,
		client:     client,
		logger:     logger.With().Str("component", "flaresolverr").Logger(),
		clearances: make(map[string]clearance),
	}
}

// Enabled reports whether a solver endpoint is configured.
func (s *Solver) Enabled() bool {
	return s != nil && s.cfg.URL != ""
}

// AppliesTo reports whether the solver should run for the indexer.
func (s *Solver) AppliesTo(def *types.IndexerDefinition) bool {
	if !s.Enabled() {
		return false
	}
	if len(s.cfg.Tags) == 0 {
		return true
	}
	for _, tag := range s.cfg.Tags {
		if def.HasTag(tag) {
			return true
		}
	}
	return false
}

// PreRequest attaches stored clearance for the request host.
func (s *Solver) PreRequest(req *http.Request) (*http.Request, error) {
	s.mu.RLock()
	c, ok := s.clearances[req.URL.Hostname()]
	s.mu.RUnlock()
	if !ok {
		return req, nil
	}

	out := req.Clone(req.Context())
	if c.userAgent != "" {
		out.Header.Set("User-Agent", c.userAgent)
	}
	for _, cookie := range c.cookies {
		if _, err := out.Cookie(cookie.Name); err == nil {
			continue
		}
		out.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	return out, nil
}

// PostResponse solves solvable challenges. When solving fails the original
// response passes through so a later detector reports the protection.
func (s *Solver) PostResponse(req *http.Request, resp *Response) (*Response, error) {
	info, ok := Detect(resp)
	if !ok || !info.Solvable {
		return resp, nil
	}

	s.logger.Info().
		Str("host", req.URL.Hostname()).
		Str("vendor", info.Vendor).
		Msg("Protection challenge detected, solving")

	solved, err := s.solve(req.Context(), req)
	if err != nil {
		s.logger.Warn().Err(err).Str("host", req.URL.Hostname()).Msg("Failed to solve challenge")
		return resp, nil
	}
	return solved, nil
}

// Clear forgets the clearance stored for host.
func (s *Solver) Clear(host string) {
	s.mu.Lock()
	delete(s.clearances, host)
	s.mu.Unlock()
}

func (s *Solver) solve(ctx context.Context, req *http.Request) (*Response, error) {
	payload := solverRequest{
		Cmd:        "request.get",
		URL:        req.URL.String(),
		MaxTimeout: s.cfg.MaxTimeout.Milliseconds(),
	}
	if req.Method == http.MethodPost {
		payload.Cmd = "request.post"
		data, err := requestBody(req)
		if err != nil {
			return nil, err
		}
		payload.PostData = data
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode solver request: %w", err)
	}

	endpoint := strings.TrimSuffix(s.cfg.URL, "/") + "/v1"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create solver request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, types.NewTransientError("solver request failed", err)
	}
	defer httpResp.Body.Close()

	var result solverResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&result); err != nil {
		return nil, types.NewParseError("invalid solver response", err)
	}
	if httpResp.StatusCode != http.StatusOK || result.Status != "ok" {
		return nil, fmt.Errorf("solver returned %d: %s", httpResp.StatusCode, result.Message)
	}

	sol := result.Solution
	c := clearance{userAgent: sol.UserAgent}
	header := http.Header{}
	for k, v := range sol.Headers {
		header.Set(k, v)
	}
	// The solution body is already decoded text.
	header.Del("Content-Encoding")
	header.Del("Content-Length")
	for _, sc := range sol.Cookies {
		cookie := &http.Cookie{
			Name:     sc.Name,
			Value:    sc.Value,
			Domain:   sc.Domain,
			Path:     sc.Path,
			HttpOnly: sc.HTTPOnly,
			Secure:   sc.Secure,
		}
		if sc.Expires > 0 {
			cookie.Expires = time.Unix(int64(sc.Expires), 0)
		}
		c.cookies = append(c.cookies, cookie)
		header.Add("Set-Cookie", cookie.String())
	}

	s.mu.Lock()
	s.clearances[req.URL.Hostname()] = c
	s.mu.Unlock()

	finalURL := req.URL
	if u, err := url.Parse(sol.URL); err == nil && sol.URL != "" {
		finalURL = u
	}
	status := sol.Status
	if status == 0 {
		status = http.StatusOK
	}

	s.logger.Info().
		Str("host", req.URL.Hostname()).
		Int("cookies", len(c.cookies)).
		Msg("Challenge solved")

	return &Response{
		StatusCode: status,
		Header:     header,
		Body:       []byte(sol.Response),
		URL:        finalURL,
	}, nil
}

func requestBody(req *http.Request) (string, error) {
	if req.GetBody == nil {
		return "", nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}
	return string(data), nil
}
