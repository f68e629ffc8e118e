// Package paypal is the gateway adapter for PayPal's REST APIs: Orders v2 for
// deposits, Payouts v1 for withdrawals and Reporting v1 for reserve balances.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"wallet_settlement/internal/gateway"

	"github.com/sirupsen/logrus"
)

const Name = "paypal"

// Config holds PayPal credentials and endpoints.
type Config struct {
	ClientID      string
	Secret        string
	Environment   string // sandbox or live
	WebhookID     string
	ReturnURL     string
	CancelURL     string
	ReportWindows int    // 31-day windows summed when the balance endpoint is not authorized
	BaseURL       string // overrides the environment's base URL
	Timeout       time.Duration
}

// Client talks to PayPal over HTTPS.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	log        *logrus.Entry

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New builds a Client. A zero Timeout defaults to 30s.
func New(cfg Config) *Client {
	baseURL := "https://api-m.sandbox.paypal.com"
	if cfg.Environment == "live" {
		baseURL = "https://api-m.paypal.com"
	}
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReportWindows <= 0 {
		cfg.ReportWindows = 3
	}
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logrus.WithField("component", "paypal"),
	}
}

func (c *Client) Name() string { return Name }

// apiError is a non-2xx PayPal response.
type apiError struct {
	Status  int
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("paypal: %d %s: %s", e.Status, e.Name, e.Message)
}

func (e *apiError) issue() string {
	if len(e.Details) > 0 {
		return e.Details[0].Issue
	}
	return e.Name
}

func (e *apiError) details() map[string]any {
	return map[string]any{"status": e.Status, "name": e.Name, "issue": e.issue()}
}

// tokenError wraps a failure to obtain an OAuth token, before the API request
// it was needed for is sent.
type tokenError struct{ err error }

func (e *tokenError) Error() string { return "paypal: access token: " + e.err.Error() }

func (e *tokenError) Unwrap() error { return e.err }

// accessToken returns a cached OAuth token, fetching a new one when it is near expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &apiError{Status: resp.StatusCode, Name: "AUTHENTICATION_FAILURE", Message: string(body)}
	}
	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	c.token = result.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(result.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

// call performs an authenticated JSON request. Transport failures are returned
// as-is; non-2xx responses as *apiError.
func (c *Client) call(ctx context.Context, method, path string, payload any, headers map[string]string, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return &tokenError{err: err}
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		if resp.StatusCode == http.StatusUnauthorized {
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
		}
		return apiErr
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("paypal: failed to parse response: %w", err)
		}
	}
	return nil
}

// classify maps a read-only call failure: 4xx is a rejection, everything else unavailability.
func classify(op string, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return gateway.Rejected(Name, op, apiErr.issue(), apiErr.details())
	}
	return gateway.Unavailable(Name, op, err)
}
