package gwhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Client talks to an [HTTPServer].
type Client struct {
	// BaseURL is the scheme and host of the server, e.g. "http://127.0.0.1:9117".
	BaseURL string

	// HTTP defaults to [http.DefaultClient].
	HTTP *http.Client
}

// StatusError is returned when the server responds with an unexpected status code.
type StatusError struct {
	Code int
	Body string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, strings.TrimSpace(e.Body))
}

func (c Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, http.StatusOK, &resp)
	return resp, err
}

func (c Client) SetAllowRestart(ctx context.Context, allow bool) error {
	return c.do(ctx, http.MethodPut, "/allow-restart", AllowRestartRequest{Allow: allow}, http.StatusNoContent, nil)
}

func (c Client) Reboot(ctx context.Context, reason string) error {
	return c.do(ctx, http.MethodPost, "/reboot", RebootRequest{Reason: reason}, http.StatusAccepted, nil)
}

// ProcessStarted reports the PID of a process of interest.
func (c Client) ProcessStarted(ctx context.Context, name string, pid int) error {
	return c.do(
		ctx, http.MethodPut, "/processes/"+url.PathEscape(name),
		ProcessStartedRequest{PID: pid}, http.StatusNoContent, nil,
	)
}

// ListDiagnostics returns up to limit diagnostic summaries, newest first.
// A limit of zero or less means no limit.
func (c Client) ListDiagnostics(ctx context.Context, limit int) ([]DiagnosticSummary, error) {
	p := "/diagnostics"
	if limit > 0 {
		p += "?limit=" + strconv.Itoa(limit)
	}
	var resp []DiagnosticSummary
	err := c.do(ctx, http.MethodGet, p, nil, http.StatusOK, &resp)
	return resp, err
}

func (c Client) Diagnostic(ctx context.Context, episodeID string) (DiagnosticSummary, error) {
	var resp DiagnosticSummary
	err := c.do(ctx, http.MethodGet, "/diagnostics/"+url.PathEscape(episodeID), nil, http.StatusOK, &resp)
	return resp, err
}

// Traces returns the raw stack traces captured for the given episode.
func (c Client) Traces(ctx context.Context, episodeID string) ([]byte, error) {
	res, err := c.send(ctx, http.MethodGet, "/diagnostics/"+url.PathEscape(episodeID)+"/traces", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read traces: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, StatusError{Code: res.StatusCode, Body: string(b)}
	}
	return b, nil
}

func (c Client) do(ctx context.Context, method, path string, in any, wantCode int, out any) error {
	res, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != wantCode {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return StatusError{Code: res.StatusCode, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c Client) send(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.BaseURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	return res, nil
}
