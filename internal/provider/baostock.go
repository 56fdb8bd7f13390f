// Package provider implements the client for the market-data gateway, a
// baostock-style service exposing session-scoped daily-bar and index
// membership queries. A session is expensive to open (login/logout round
// trip), so callers are expected to open one session per batch and reuse it.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"goldenscan/internal/domain"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	dateLayout         = "2006-01-02"

	// adjustFlagNone requests unadjusted prices, matching what the signal
	// engine and simulator expect.
	adjustFlagNone = "3"
)

var ErrSessionClosed = errors.New("provider: session already closed")

type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
	tracer   trace.Tracer
}

func NewClient(baseURL, user, password string, tracer trace.Tracer) *Client {
	return &Client{
		baseURL:  baseURL,
		user:     user,
		password: password,
		http:     &http.Client{Timeout: defaultHTTPTimeout},
		tracer:   tracer,
	}
}

// Session is an authenticated gateway session. It must be closed with
// Logout on every path, including errors.
type Session struct {
	client *Client
	token  string
	closed bool
}

// Login authenticates against the gateway and returns a live session.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "provider.login")
	defer span.End()

	payload, _ := json.Marshal(map[string]string{
		"user":     c.user,
		"password": c.password,
	})
	body, err := c.post(ctx, "/api/v1/login", payload)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := gatewayError(body); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return nil, errors.New("login: gateway returned no session token")
	}
	return &Session{client: c, token: token}, nil
}

// Logout terminates the session. It is idempotent so defer-on-error paths
// can call it unconditionally.
func (s *Session) Logout(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	ctx, span := s.client.tracer.Start(ctx, "provider.logout")
	defer span.End()

	body, err := s.client.post(ctx, "/api/v1/logout?token="+url.QueryEscape(s.token), nil)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if err := gatewayError(body); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// QueryDailyBars returns daily bars for code within [start, end], ascending
// by date. Every row is validated before it is returned; a malformed row
// fails the whole query so the caller's retry/skip policy applies.
func (s *Session) QueryDailyBars(ctx context.Context, code string, start, end time.Time) ([]domain.Bar, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	ctx, span := s.client.tracer.Start(ctx, "provider.query-daily-bars")
	defer span.End()

	q := url.Values{}
	q.Set("token", s.token)
	q.Set("code", code)
	q.Set("start_date", start.Format(dateLayout))
	q.Set("end_date", end.Format(dateLayout))
	q.Set("frequency", "d")
	q.Set("adjustflag", adjustFlagNone)

	body, err := s.client.get(ctx, "/api/v1/history/daily?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("query daily bars %s: %w", code, err)
	}
	if err := gatewayError(body); err != nil {
		return nil, fmt.Errorf("query daily bars %s: %w", code, err)
	}

	rows := gjson.GetBytes(body, "rows")
	bars := make([]domain.Bar, 0, int(rows.Get("#").Int()))
	var rowErr error
	rows.ForEach(func(_, row gjson.Result) bool {
		bar, err := parseBarRow(code, row)
		if err != nil {
			rowErr = err
			return false
		}
		bars = append(bars, bar)
		return true
	})
	if rowErr != nil {
		return nil, fmt.Errorf("query daily bars %s: %w", code, rowErr)
	}
	return bars, nil
}

// QueryIndexMembers returns the current constituents of an index.
func (s *Session) QueryIndexMembers(ctx context.Context, index domain.IndexTag) ([]domain.Instrument, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if !index.IsValid() {
		return nil, &domain.ParameterError{Name: "index", Reason: fmt.Sprintf("unsupported index %q", index)}
	}

	ctx, span := s.client.tracer.Start(ctx, "provider.query-index-members")
	defer span.End()

	q := url.Values{}
	q.Set("token", s.token)
	q.Set("index", string(index))

	body, err := s.client.get(ctx, "/api/v1/index/members?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("query index members %s: %w", index, err)
	}
	if err := gatewayError(body); err != nil {
		return nil, fmt.Errorf("query index members %s: %w", index, err)
	}

	var instruments []domain.Instrument
	gjson.GetBytes(body, "rows").ForEach(func(_, row gjson.Result) bool {
		code := row.Get("code").String()
		if code == "" {
			return true
		}
		name := row.Get("code_name").String()
		if name == "" {
			name = code
		}
		instruments = append(instruments, domain.Instrument{
			Code:       code,
			Name:       name,
			Index:      index,
			UpdateDate: row.Get("update_date").String(),
		})
		return true
	})
	return instruments, nil
}

// parseBarRow converts one gateway row into a validated Bar. The gateway
// serialises numerics as strings, baostock-style.
func parseBarRow(code string, row gjson.Result) (domain.Bar, error) {
	date, err := time.Parse(dateLayout, row.Get("date").String())
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parse bar date %q: %w", row.Get("date").String(), err)
	}

	bar := domain.Bar{
		Code:       code,
		Date:       date,
		AdjustFlag: row.Get("adjustflag").String(),
	}
	for _, f := range []struct {
		key  string
		dest *float64
	}{
		{"open", &bar.Open}, {"high", &bar.High}, {"low", &bar.Low},
		{"close", &bar.Close}, {"volume", &bar.Volume}, {"amount", &bar.Amount},
	} {
		raw := row.Get(f.key).String()
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("parse bar field %s=%q: %w", f.key, raw, err)
		}
		*f.dest = v
	}

	if err := bar.Validate(); err != nil {
		return domain.Bar{}, err
	}
	return bar, nil
}

// GatewayError is a non-zero error envelope returned by the market gateway.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// gatewayError maps the gateway's baostock-style error envelope onto a Go
// error. error_code "0" means success.
func gatewayError(body []byte) error {
	code := gjson.GetBytes(body, "error_code").String()
	if code == "" || code == "0" {
		return nil
	}
	return &GatewayError{Code: code, Message: gjson.GetBytes(body, "error_msg").String()}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}
	return body, nil
}
