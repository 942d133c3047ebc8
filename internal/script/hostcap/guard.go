// Package hostcap gives in-process script runtimes a small, policy-checked
// set of host capabilities (file and HTTP access). Every denied call is
// recorded so the engine can report a security error even when the script
// swallows the failure.
package hostcap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/script"
)

// Operation names reported in security errors.
const (
	OpFileRead   = "fs.read"
	OpFileWrite  = "fs.write"
	OpFileExists = "fs.exists"
	OpHTTPGet    = "http.get"
	OpEval       = "eval"
	OpFunction   = "Function"
)

const defaultHTTPTimeout = 10 * time.Second

// ErrDenied is wrapped by every error returned for a denied operation.
var ErrDenied = errors.New("operation denied by sandbox policy")

// Policy decides which capabilities a script may use.
type Policy struct {
	AllowFilesystem bool
	AllowNetwork    bool
	// MaxBytes bounds file and response bodies read into the script.
	MaxBytes int64
}

// PolicyFor derives a policy from a script config.
func PolicyFor(cfg script.Config) Policy {
	return Policy{
		AllowFilesystem: cfg.AllowFilesystem,
		AllowNetwork:    cfg.AllowNetwork,
		MaxBytes:        int64(cfg.MaxOutputSize),
	}
}

// HTTPResponse is what a script sees of an HTTP call.
type HTTPResponse struct {
	Status int
	Body   string
}

// Guard is owned by one execution.
type Guard struct {
	policy Policy
	client *http.Client

	mu        sync.Mutex
	violation string
}

// NewGuard returns a guard enforcing policy.
func NewGuard(policy Policy) *Guard {
	return &Guard{
		policy: policy,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Deny records operation as a violation and returns the error to raise
// inside the script. The first violation wins.
func (g *Guard) Deny(operation string) error {
	g.mu.Lock()
	if g.violation == "" {
		g.violation = operation
	}
	g.mu.Unlock()
	return fmt.Errorf("%w: %s", ErrDenied, operation)
}

// Violation returns the first denied operation, if any.
func (g *Guard) Violation() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.violation, g.violation != ""
}

// SecurityError returns the recorded violation as a script error, or nil.
func (g *Guard) SecurityError() *script.Error {
	op, ok := g.Violation()
	if !ok {
		return nil
	}
	return script.NewSecurityError(op)
}

// FilesystemAllowed reports the filesystem policy.
func (g *Guard) FilesystemAllowed() bool { return g.policy.AllowFilesystem }

// NetworkAllowed reports the network policy.
func (g *Guard) NetworkAllowed() bool { return g.policy.AllowNetwork }

// ReadFile returns the content of path.
func (g *Guard) ReadFile(path string) (string, error) {
	if !g.policy.AllowFilesystem {
		return "", g.Deny(OpFileRead)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(g.limit(f))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile replaces the content of path.
func (g *Guard) WriteFile(path, content string) error {
	if !g.policy.AllowFilesystem {
		return g.Deny(OpFileWrite)
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// Exists reports whether path exists.
func (g *Guard) Exists(path string) (bool, error) {
	if !g.policy.AllowFilesystem {
		return false, g.Deny(OpFileExists)
	}
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// HTTPGet fetches url.
func (g *Guard) HTTPGet(ctx context.Context, url string) (*HTTPResponse, error) {
	if !g.policy.AllowNetwork {
		return nil, g.Deny(OpHTTPGet)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(g.limit(resp.Body))
	if err != nil {
		return nil, err
	}
	return &HTTPResponse{Status: resp.StatusCode, Body: string(body)}, nil
}

func (g *Guard) limit(r io.Reader) io.Reader {
	if g.policy.MaxBytes <= 0 {
		return r
	}
	return io.LimitReader(r, g.policy.MaxBytes)
}
