// Package upstream talks to the CloudCode generation API and drives
// the credential retry loop around it.
package upstream

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/constants"
	"antigravity2api-go/internal/credential"
	apierrors "antigravity2api-go/internal/errors"
)

// Client issues generation requests against the upstream API.
type Client struct {
	httpClient *http.Client
	url        string
	host       string
	userAgent  string
}

// NewClient builds a Client from configuration. The transport is
// tuned for long-lived streaming responses: generous idle pools and a
// response header timeout, with no overall request deadline.
func NewClient(cfg *config.Config) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: constants.DefaultDialTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   constants.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: constants.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: constants.DefaultExpectContinueTimeout,
		MaxIdleConns:          constants.BaseMaxIdleConns,
		MaxIdleConnsPerHost:   constants.BaseMaxIdleConnsPerHost,
		IdleConnTimeout:       constants.IdleConnTimeout,
		// The upstream encodes SSE frames itself; automatic gzip would
		// buffer them.
		DisableCompression: true,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		url:        cfg.API.URL,
		host:       cfg.API.Host,
		userAgent:  cfg.API.UserAgent,
	}
}

// Stream POSTs body with cred's token and feeds every SSE data payload
// to onData. It returns a typed error for non-2xx replies and
// transport failures; onData errors abort the read and pass through.
func (c *Client) Stream(ctx context.Context, cred *credential.Credential, body []byte, onData func([]byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return apierrors.NewNetwork("build upstream request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if c.host != "" {
		req.Host = c.host
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierrors.MapNetworkError(err)
	}
	defer resp.Body.Close()

	reader, err := decodeBody(resp)
	if err != nil {
		return apierrors.NewNetwork("decode upstream response: " + err.Error())
	}

	if resp.StatusCode/100 != 2 {
		payload, _ := io.ReadAll(io.LimitReader(reader, 1<<20))
		log.WithFields(log.Fields{
			"status":     resp.StatusCode,
			"credential": cred.TokenPrefix(),
		}).Warn("upstream rejected request")
		return apierrors.MapUpstreamStatus(resp.StatusCode, resp.Header, payload)
	}

	return readSSE(reader, onData)
}

// decodeBody unwraps a gzip response body when the upstream compressed
// it despite the disabled automatic handling.
func decodeBody(resp *http.Response) (io.Reader, error) {
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return gzip.NewReader(resp.Body)
	}
	return resp.Body, nil
}

// readSSE walks the event stream line by line, forwarding data payloads.
func readSSE(r io.Reader, onData func([]byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, constants.SSEScannerInitialBufferSize), constants.SSEScannerMaxBufferSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		if err := onData(payload); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return apierrors.NewStream("upstream stream interrupted: " + err.Error())
	}
	return nil
}
