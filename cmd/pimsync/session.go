package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/sonroyaalmerol/pimsync/pkg/webdav"
)

// httpSession is the one concrete webdav.Session this binary ships:
// a net/http client applying Basic credentials and following the
// TLSPolicy an account chose. Digest auth and the HTTP transport
// itself are otherwise the out-of-scope collaborator the Session
// contract exists to abstract over; this is the thin adapter a real
// deployment needs to actually reach a server.
type httpSession struct {
	client *http.Client
}

func newHTTPSession(timeout time.Duration, policy webdav.TLSPolicy) *httpSession {
	transport := &http.Transport{}
	if policy == webdav.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &httpSession{client: &http.Client{Timeout: timeout, Transport: transport}}
}

func (s *httpSession) Do(req *webdav.Request) (*webdav.Response, error) {
	httpReq, err := http.NewRequest(req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("session: building request: %w", err)
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h[0], h[1])
	}
	if req.Creds != nil && req.Creds.BasicUser != "" {
		httpReq.Header.Set("Authorization", basicAuthHeader(req.Creds.BasicUser, req.Creds.BasicPass))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("session: reading response body: %w", err)
	}

	headers := make([][2]string, 0, len(resp.Header))
	for k, vs := range resp.Header {
		for _, v := range vs {
			headers = append(headers, [2]string{k, v})
		}
	}
	return &webdav.Response{Body: body, Code: resp.StatusCode, Headers: headers}, nil
}

func basicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// refreshTokenAuthorizer wraps an oauth2.Config's refresh-token grant
// as a webdav.Authorizer: the only non-interactive OAuth2 flow this
// binary drives, per SPEC_FULL.md's Session scope.
func refreshTokenAuthorizer(ctx context.Context, clientID, clientSecret, tokenURL, refreshToken string) webdav.Authorizer {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	ts := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return func(req *webdav.Request) error {
		tok, err := ts.Token()
		if err != nil {
			return fmt.Errorf("oauth2: refreshing access token: %w", err)
		}
		req.Headers = append(req.Headers, [2]string{"Authorization", "Bearer " + tok.AccessToken})
		return nil
	}
}
