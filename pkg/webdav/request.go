package webdav

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Custom WebDAV verbs beyond the stdlib net/http constants.
const (
	MethodPropfind = "PROPFIND"
	MethodReport   = "REPORT"
	MethodMkcol    = "MKCOL"
)

// TLSPolicy makes certificate verification an explicit, non-default
// opt-in for Session implementations rather than a silent default.
type TLSPolicy int

const (
	// VerifyPeer is the default: standard certificate/hostname
	// verification.
	VerifyPeer TLSPolicy = iota
	// InsecureSkipVerify disables peer/hostname verification. Callers
	// choosing this must do so explicitly; Session implementations
	// should log a Warn once when constructed with it.
	InsecureSkipVerify
)

// Credentials carries one authentication scheme. Basic and Digest are
// mutually exclusive; OAuth2 access is instead carried by an
// Authorizer hook that sets the Authorization header before dispatch.
type Credentials struct {
	BasicUser string
	BasicPass string

	DigestUser string
	DigestPass string
}

// Authorizer is invoked immediately before dispatch, letting an OAuth2
// (or other bearer) token source set the Authorization header. It is
// the only hook point for non-interactive OAuth2; the engine itself
// never drives an interactive authorization-code flow.
type Authorizer func(req *Request) error

// Request is one outbound DAV request, submitted through the Session
// collaborator contract. The HTTP transport itself, and
// Basic/Digest/OAuth2 wire mechanics, are out-of-scope external
// collaborators — Session is the seam.
type Request struct {
	Method            string
	URL               string
	Headers           [][2]string // ordered, unlike a map
	Body              []byte
	FollowRedirection bool
	Creds             *Credentials
	Authorize         Authorizer
}

// Response is what a Session returns for one Request.
type Response struct {
	Body    []byte
	Code    int
	Headers [][2]string
}

func (r *Response) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if equalFoldASCII(h[0], name) {
			return h[1], true
		}
	}
	return "", false
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Session is the HTTP transport collaborator contract: submit one
// request, get back a response or an error. Concrete implementations
// own TLS policy, connection pooling, timeouts and retries below this
// layer — the Engine treats any failure here as transient and does
// not retry.
type Session interface {
	Do(req *Request) (*Response, error)
}

// Engine layers redirect-following, tracing, and the authorizer hook
// on top of a Session.
type Engine struct {
	Session Session
	Trace   bool
	UserAgent string
	logger  zerolog.Logger
}

// NewEngine constructs an Engine around a Session.
func NewEngine(session Session, logger zerolog.Logger) *Engine {
	return &Engine{Session: session, logger: logger, UserAgent: "pimsync/1.0"}
}

// Do dispatches req, following at most one 301 redirect chain (each
// hop re-issues the request verbatim against the Location URL; chained
// redirects are permitted by recursion when FollowRedirection is set).
func (e *Engine) Do(req *Request) (*Response, error) {
	return e.doDepth(req, 0)
}

const maxRedirectDepth = 10

func (e *Engine) doDepth(req *Request, depth int) (*Response, error) {
	if depth > maxRedirectDepth {
		return nil, fmt.Errorf("webdav: too many redirects")
	}

	r := *req
	r.Headers = withUserAgent(req.Headers, e.UserAgent)
	if req.Authorize != nil {
		if err := req.Authorize(&r); err != nil {
			return nil, fmt.Errorf("webdav: authorize: %w", err)
		}
	}

	e.traceRequest(&r)
	resp, err := e.Session.Do(&r)
	if err != nil {
		return nil, fmt.Errorf("webdav: %s %s: %w", req.Method, req.URL, err)
	}
	e.traceResponse(resp)

	if req.FollowRedirection && resp.Code == 301 {
		if loc, ok := resp.Header("Location"); ok && loc != "" {
			next := *req
			next.URL = loc
			return e.doDepth(&next, depth+1)
		}
	}

	return resp, nil
}

func withUserAgent(headers [][2]string, ua string) [][2]string {
	out := make([][2]string, 0, len(headers)+1)
	hasUA := false
	for _, h := range headers {
		if equalFoldASCII(h[0], "User-Agent") {
			hasUA = true
		}
		out = append(out, h)
	}
	if !hasUA && ua != "" {
		out = append(out, [2]string{"User-Agent", ua})
	}
	return out
}

func (e *Engine) traceRequest(r *Request) {
	if !e.Trace {
		return
	}
	e.logger.Debug().Str("method", r.Method).Str("url", r.URL).Int("body_len", len(r.Body)).Msg("dav request")
}

func (e *Engine) traceResponse(r *Response) {
	if !e.Trace {
		return
	}
	e.logger.Debug().Int("code", r.Code).Int("body_len", len(r.Body)).Msg("dav response")
}
