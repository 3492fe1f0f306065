package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	scouterrors "github.com/vinayprograms/scoutkit/errors"
)

// HealthPath is the oracle API health endpoint.
const HealthPath = "/health"

// HTTPProber probes a local oracle API over HTTP.
type HTTPProber struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// HTTPConfig configures an HTTPProber.
type HTTPConfig struct {
	// BaseURL of the local oracle API, e.g. "http://127.0.0.1:8000".
	BaseURL string

	// Client performs the request. Default: http.DefaultClient.
	Client *http.Client

	// Timeout bounds the probe. Default: 2 seconds.
	Timeout time.Duration
}

// healthResponse is the subset of the oracle health document we read.
type healthResponse struct {
	Status      string `json:"status"`
	BitnetReady *bool  `json:"bitnet_loaded,omitempty"`
}

// NewHTTPProber creates an HTTP prober.
func NewHTTPProber(cfg HTTPConfig) *HTTPProber {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &HTTPProber{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.Client,
		timeout: cfg.Timeout,
	}
}

// Name implements Prober.
func (p *HTTPProber) Name() string {
	return "http"
}

// Probe issues GET /health. The oracle is available iff it answers 200 with
// status "ok". Connection refusal, timeouts and non-200 answers mean absent.
func (p *HTTPProber) Probe(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+HealthPath, nil)
	if err != nil {
		return Result{}, scouterrors.WrapWithCode(err, scouterrors.ErrCodeInvalidInput, "build probe request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if isAbsence(err) {
			return Result{Detail: "no local oracle"}, nil
		}
		return Result{}, scouterrors.WrapWithCode(err, scouterrors.ErrCodeProbeFailed, "probe local oracle")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Result{Detail: fmt.Sprintf("health returned %d", resp.StatusCode)}, nil
	}

	var health healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&health); err != nil {
		return Result{}, scouterrors.WrapWithCode(err, scouterrors.ErrCodeMalformed, "decode health response")
	}
	if health.Status != "ok" {
		return Result{Detail: fmt.Sprintf("oracle status %q", health.Status)}, nil
	}
	return Result{Available: true}, nil
}

// isAbsence reports whether err means nothing is listening locally, as
// opposed to a fault on a live endpoint.
func isAbsence(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
