// Package upstream is the typed client for the portal REST API (captcha issuance,
// OTP send, OTP verify). All classification of upstream failures into closed enums
// happens here; raw server text never reaches the login state machine.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 10 * time.Second

// Client talks to the portal API over JSON/HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for the given base URL with the given per-request timeout.
// Outbound requests are traced via the otelhttp transport.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Captcha is one issued human-verification challenge.
type Captcha struct {
	Token     string
	Challenge string
	Type      string
}

// CaptchaPayload is the consumed challenge sent alongside send/verify requests.
type CaptchaPayload struct {
	Token  string `json:"token"`
	Answer int    `json:"answer"`
	// IssuedAtClientTime is the page-load timestamp (seconds since epoch), captured once
	// per flow and reused for every submission; the server uses it as a bot-timing signal.
	IssuedAtClientTime int64 `json:"issuedAtClientTime"`
	// HoneypotField must always be empty; a non-empty value flags the submission as automated.
	HoneypotField string `json:"honeypotField"`
}

// SendOTPRequest is the request body for /otp/send.
type SendOTPRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	Captcha     *CaptchaPayload `json:"captcha,omitempty"`
}

// SendOTPResult is the classified outcome of /otp/send.
type SendOTPResult struct {
	Outcome   Outcome
	IsNewUser bool
	// DevCode is the development-mode OTP echoed by the server, if any. Never set in production.
	DevCode string
	Message string
}

// VerifyOTPRequest is the request body for /otp/verify.
type VerifyOTPRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	Code        string          `json:"code"`
	Captcha     *CaptchaPayload `json:"captcha,omitempty"`
}

// VerifyResult is the classified outcome of /otp/verify. On OutcomeOK both User and
// SessionID are non-empty; a success response missing either is downgraded to
// OutcomeOther so a malformed partial response can never log a user in.
type VerifyResult struct {
	Outcome   Outcome
	User      json.RawMessage
	SessionID string
	IsNewUser bool
	Message   string
}

type captchaGetRequest struct {
	Action string `json:"action"`
}

type captchaGetResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	Challenge string `json:"challenge"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

type sendOTPResponse struct {
	Success             bool   `json:"success"`
	Message             string `json:"message"`
	IsNewUser           bool   `json:"isNewUser"`
	DevelopmentModeCode string `json:"developmentModeCode"`
}

type verifyOTPResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	User      json.RawMessage `json:"user"`
	SessionID string          `json:"sessionId"`
	IsNewUser bool            `json:"isNewUser"`
}

// GetCaptcha requests a fresh challenge for the given action (e.g. "login").
// Transport failures return a classified *Error; a server-declared failure is ErrKindUnknown.
func (c *Client) GetCaptcha(ctx context.Context, action string) (*Captcha, error) {
	var out captchaGetResponse
	if err := c.postJSON(ctx, "/captcha/get", captchaGetRequest{Action: action}, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Token == "" {
		return nil, &Error{Kind: ErrKindUnknown, Op: "captcha/get", Err: fmt.Errorf("server rejected captcha request")}
	}
	return &Captcha{Token: out.Token, Challenge: out.Challenge, Type: out.Type}, nil
}

// SendOTP dispatches a login code to the given phone. Domain failures (captcha expired,
// captcha wrong answer, SMS provider trouble) come back as classified outcomes, not errors;
// only transport failures are returned as error.
func (c *Client) SendOTP(ctx context.Context, req SendOTPRequest) (*SendOTPResult, error) {
	var out sendOTPResponse
	if err := c.postJSON(ctx, "/otp/send", req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &SendOTPResult{Outcome: classifyFailureMessage(out.Message), Message: out.Message}, nil
	}
	return &SendOTPResult{
		Outcome:   OutcomeOK,
		IsNewUser: out.IsNewUser,
		DevCode:   out.DevelopmentModeCode,
	}, nil
}

// VerifyOTP checks the code for the given phone. Wrong codes and captcha failures come
// back as classified outcomes; only transport failures are returned as error.
func (c *Client) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*VerifyResult, error) {
	var out verifyOTPResponse
	if err := c.postJSON(ctx, "/otp/verify", req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &VerifyResult{Outcome: classifyVerifyFailure(out.Message), Message: out.Message}, nil
	}
	if len(out.User) == 0 || string(out.User) == "null" || out.SessionID == "" {
		// Partial success response; never treat as a login.
		return &VerifyResult{Outcome: OutcomeOther, Message: "incomplete verify response"}, nil
	}
	return &VerifyResult{
		Outcome:   OutcomeOK,
		User:      out.User,
		SessionID: out.SessionID,
		IsNewUser: out.IsNewUser,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return classifyTransportError(path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: ErrKindEndpointConfig, Op: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
