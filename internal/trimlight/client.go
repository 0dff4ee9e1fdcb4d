// Package trimlight is a client for the Trimlight cloud API. Every request
// is a signed JSON POST; the device itself is only reachable through it.
package trimlight

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Trimlight API endpoint.
const DefaultBaseURL = "https://trimlight.ledhue.com/trimlight"

const (
	pathDeviceDetail = "/v1/oauth/resources/device/get"
	pathDeviceUpdate = "/v1/oauth/resources/device/update"
	pathPreview      = "/v1/oauth/resources/device/effect/preview"
	pathRunEffect    = "/v1/oauth/resources/device/effect/view"
)

// ErrStatus is returned (wrapped) when the API answers with a non-2xx status.
var ErrStatus = errors.New("unexpected status code")

// Credentials identify the API client and the device it controls.
type Credentials struct {
	ClientID     string
	ClientSecret string
	DeviceID     string
}

// Client talks to the Trimlight API on behalf of one device.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewClient creates a new Trimlight client.
func NewClient(baseURL string, creds Credentials, timeout time.Duration, rateLimitRPS float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if rateLimitRPS == 0 {
		rateLimitRPS = 2.0
	}
	burst := int(rateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rateLimitRPS), burst),
		now:        time.Now,
	}
}

// DeviceID returns the id of the controlled device.
func (c *Client) DeviceID() string {
	return c.creds.DeviceID
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// DeviceDetail fetches the full device state.
func (c *Client) DeviceDetail(ctx context.Context) (*DeviceDetail, error) {
	body := map[string]any{
		"deviceId":    c.creds.DeviceID,
		"currentDate": currentDate(c.now()),
	}
	var detail DeviceDetail
	if err := c.post(ctx, pathDeviceDetail, body, &detail); err != nil {
		return nil, fmt.Errorf("device detail: %w", err)
	}
	return &detail, nil
}

// SetSwitchState switches the device on (1) or off (0).
func (c *Client) SetSwitchState(ctx context.Context, state int) (*Response, error) {
	body := map[string]any{
		"deviceId": c.creds.DeviceID,
		"payload":  map[string]any{"switchState": state},
	}
	var resp Response
	if err := c.post(ctx, pathDeviceUpdate, body, &resp); err != nil {
		return nil, fmt.Errorf("set switch state: %w", err)
	}
	return &resp, nil
}

// Preview renders an effect without storing it.
func (c *Client) Preview(ctx context.Context, req PreviewRequest) (*Response, error) {
	body := map[string]any{
		"deviceId": c.creds.DeviceID,
		"payload":  req,
	}
	var resp Response
	if err := c.post(ctx, pathPreview, body, &resp); err != nil {
		return nil, fmt.Errorf("preview effect: %w", err)
	}
	return &resp, nil
}

// RunEffect activates a stored effect by id.
func (c *Client) RunEffect(ctx context.Context, id int) (*Response, error) {
	body := map[string]any{
		"deviceId": c.creds.DeviceID,
		"payload":  map[string]any{"id": id},
	}
	var resp Response
	if err := c.post(ctx, pathRunEffect, body, &resp); err != nil {
		return nil, fmt.Errorf("run effect %d: %w", id, err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.sign(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Trimlight request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) sign(req *http.Request) {
	ts := c.now().UnixMilli()
	req.Header.Set("authorization", Signature(c.creds.ClientID, c.creds.ClientSecret, ts))
	req.Header.Set("S-ClientId", c.creds.ClientID)
	req.Header.Set("S-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("Content-Type", "application/json")
}

// Signature computes the access token for a request issued at tsMillis:
// base64(HMAC-SHA256(secret, "Trimlight|<clientID>|<tsMillis>")).
func Signature(clientID, clientSecret string, tsMillis int64) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	fmt.Fprintf(mac, "Trimlight|%s|%d", clientID, tsMillis)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// currentDate is the device-local clock payload sent with detail requests.
// Weekday counts Sunday as 1 through Saturday as 7.
func currentDate(t time.Time) map[string]int {
	return map[string]int{
		"year":    t.Year() - 2000,
		"month":   int(t.Month()),
		"day":     t.Day(),
		"weekday": int(t.Weekday()) + 1,
		"hours":   t.Hour(),
		"minutes": t.Minute(),
		"seconds": t.Second(),
	}
}
