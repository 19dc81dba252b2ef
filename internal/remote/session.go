// Package remote wraps the HTTP session used against the remote service:
// one cookie jar and one header set shared by every call of a sync run.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// RoleTokenHeader carries the device token on authorized data requests.
const RoleTokenHeader = "X-Role-Token"

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.6422.112 Safari/537.36"
	defaultReferer   = "https://ak.hypergryph.com/"

	maxErrorBody = 256
)

// Options tunes a Session. Zero values pick the defaults; a zero Timeout
// leaves the client without a deadline.
type Options struct {
	UserAgent string
	Referer   string
	Timeout   time.Duration
}

// Call describes a single request.
type Call struct {
	Method string
	URL    string
	Query  map[string]string
	Body   any
	Header map[string]string
}

// Session is created fresh for every sync run and never persisted.
type Session struct {
	http      *resty.Client
	endpoints Endpoints
}

// NewSession builds a Session with an empty cookie jar.
func NewSession(endpoints Endpoints, opts Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Referer == "" {
		opts.Referer = defaultReferer
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	client := resty.New().
		SetCookieJar(jar).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Referer", opts.Referer).
		SetLogger(logger.Named("http").Sugar())
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	return &Session{http: client, endpoints: endpoints}, nil
}

// Endpoints returns the URLs this session was built with.
func (s *Session) Endpoints() Endpoints {
	return s.endpoints
}

// SetRoleToken attaches token to every subsequent request.
func (s *Session) SetRoleToken(token string) {
	s.http.SetHeader(RoleTokenHeader, token)
}

// roleToken returns the token currently attached to outgoing requests.
func (s *Session) roleToken() string {
	return s.http.Header.Get(RoleTokenHeader)
}

// Do executes call and fails with *StatusError on a non-2xx response.
func (s *Session) Do(ctx context.Context, call Call) (*resty.Response, error) {
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}

	req := s.http.R().SetContext(ctx)
	if len(call.Query) > 0 {
		req.SetQueryParams(call.Query)
	}
	if len(call.Header) > 0 {
		req.SetHeaders(call.Header)
	}
	if call.Body != nil {
		req.SetBody(call.Body)
	}

	res, err := req.Execute(method, call.URL)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, call.URL, err)
	}
	if !res.IsSuccess() {
		body := res.String()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{URL: call.URL, StatusCode: res.StatusCode(), Body: body}
	}
	return res, nil
}

// Envelope executes call and returns the decoded envelope, failing with
// *BusinessError when it reports a non-zero code.
func (s *Session) Envelope(ctx context.Context, call Call) (*Envelope, error) {
	res, err := s.Do(ctx, call)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(res.Body(), &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, call.URL, err)
	}
	code, ok := env.BusinessCode()
	if !ok {
		return nil, fmt.Errorf("%w: %s: no status or code field", ErrMalformedResponse, call.URL)
	}
	if code != 0 {
		return nil, &BusinessError{URL: call.URL, Code: code, Msg: env.Msg}
	}
	return &env, nil
}
