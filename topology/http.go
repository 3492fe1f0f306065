package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	scouterrors "github.com/vinayprograms/scoutkit/errors"
)

// HTTPResolver resolves topology with a single GET against the directory.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// HTTPConfig configures an HTTPResolver.
type HTTPConfig struct {
	// DirectoryURL is the directory base URL, e.g. "http://127.0.0.1:8000".
	DirectoryURL string

	// Client performs the request. Default: http.DefaultClient.
	Client *http.Client

	// Timeout bounds the lookup. Default: 5 seconds.
	Timeout time.Duration
}

// document is the wire form served by the directory. Address fields may be
// null; the shard field is an older name for the same address.
type document struct {
	Status        string  `json:"status"`
	Source        string  `json:"source"`
	OracleAddress *string `json:"oracle_webrtc_multiaddr"`
	ShardAddress  *string `json:"shard_webrtc_multiaddr"`
	Detail        string  `json:"detail"`
}

// NewHTTPResolver creates a directory resolver.
func NewHTTPResolver(cfg HTTPConfig) *HTTPResolver {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPResolver{
		baseURL: strings.TrimRight(cfg.DirectoryURL, "/"),
		client:  cfg.Client,
		timeout: cfg.Timeout,
	}
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context) (Topology, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	url := r.baseURL + Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Topology{}, scouterrors.Resolution("build directory request",
			scouterrors.WithCause(err), scouterrors.WithEndpoint(url))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Topology{}, scouterrors.Resolution("directory unreachable",
			scouterrors.WithCause(err), scouterrors.WithEndpoint(url))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Topology{}, scouterrors.Resolution(
			fmt.Sprintf("directory returned %d", resp.StatusCode),
			scouterrors.WithEndpoint(url),
			scouterrors.WithHTTPStatus(resp.StatusCode))
	}

	doc, err := decodeDocument(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Topology{}, scouterrors.Resolution("malformed topology document",
			scouterrors.WithCause(err), scouterrors.WithEndpoint(url))
	}

	return doc.topology(), nil
}

// decodeDocument reads exactly one JSON object. A null body or trailing data
// is malformed, never an absent address.
func decodeDocument(r io.Reader) (*document, error) {
	dec := json.NewDecoder(r)
	var doc *document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("topology document is null")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after topology document")
	}
	return doc, nil
}

func (d document) topology() Topology {
	t := Topology{
		Status: d.Status,
		Source: d.Source,
		Detail: d.Detail,
	}
	if addr := trimmed(d.OracleAddress); addr != "" {
		t.OracleAddress = addr
	} else {
		t.OracleAddress = trimmed(d.ShardAddress)
	}
	return t
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
