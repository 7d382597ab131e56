package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetCaptcha_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want %q", r.Method, http.MethodPost)
		}
		if r.URL.Path != "/captcha/get" {
			t.Errorf("path = %q, want /captcha/get", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["action"] != "login" {
			t.Errorf("action = %q, want login", body["action"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"token":     "tok-1",
			"challenge": "3 + 4",
			"type":      "math",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	got, err := c.GetCaptcha(context.Background(), "login")
	if err != nil {
		t.Fatalf("GetCaptcha: %v", err)
	}
	if got.Token != "tok-1" {
		t.Errorf("Token = %q, want tok-1", got.Token)
	}
	if got.Challenge != "3 + 4" {
		t.Errorf("Challenge = %q, want 3 + 4", got.Challenge)
	}
}

func TestGetCaptcha_ServerDeclaredFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "nope"})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	if _, err := c.GetCaptcha(context.Background(), "login"); err == nil {
		t.Fatal("GetCaptcha should fail when success=false")
	}
}

func TestGetCaptcha_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // port is now closed

	c := NewClient(server.URL, time.Second)
	_, err := c.GetCaptcha(context.Background(), "login")
	if err == nil {
		t.Fatal("GetCaptcha should fail against a closed port")
	}
	if got := KindOf(err); got != ErrKindConnRefused {
		t.Errorf("KindOf = %v, want conn_refused", got)
	}
}

func TestGetCaptcha_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(server.URL, 20*time.Millisecond)
	_, err := c.GetCaptcha(context.Background(), "login")
	if err == nil {
		t.Fatal("GetCaptcha should time out")
	}
	if got := KindOf(err); got != ErrKindTimeout {
		t.Errorf("KindOf = %v, want timeout", got)
	}
}

func TestGetCaptcha_NotFoundIsEndpointConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	_, err := c.GetCaptcha(context.Background(), "login")
	if got := KindOf(err); got != ErrKindEndpointConfig {
		t.Errorf("KindOf = %v, want endpoint_config", got)
	}
}

func TestSendOTP_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/otp/send" {
			t.Errorf("path = %q, want /otp/send", r.URL.Path)
		}
		var req SendOTPRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.PhoneNumber != "09123456789" {
			t.Errorf("phoneNumber = %q", req.PhoneNumber)
		}
		if req.Captcha == nil || req.Captcha.Token != "tok-1" {
			t.Errorf("captcha payload missing or wrong: %+v", req.Captcha)
		}
		if req.Captcha.HoneypotField != "" {
			t.Errorf("honeypot must be empty, got %q", req.Captcha.HoneypotField)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "isNewUser": true, "developmentModeCode": "1234",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	res, err := c.SendOTP(context.Background(), SendOTPRequest{
		PhoneNumber: "09123456789",
		Captcha:     &CaptchaPayload{Token: "tok-1", Answer: 7, IssuedAtClientTime: 1700000000},
	})
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if res.Outcome != OutcomeOK {
		t.Errorf("Outcome = %v, want ok", res.Outcome)
	}
	if !res.IsNewUser {
		t.Error("IsNewUser should be true")
	}
	if res.DevCode != "1234" {
		t.Errorf("DevCode = %q, want 1234", res.DevCode)
	}
}

func TestSendOTP_CaptchaExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "captcha token expired"})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	res, err := c.SendOTP(context.Background(), SendOTPRequest{PhoneNumber: "09123456789"})
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if res.Outcome != OutcomeCaptchaExpired {
		t.Errorf("Outcome = %v, want captcha_expired", res.Outcome)
	}
}

func TestVerifyOTP_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/otp/verify" {
			t.Errorf("path = %q, want /otp/verify", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"user":      map[string]any{"id": "u-1", "phone": "09123456789"},
			"sessionId": "sess-1",
			"isNewUser": false,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	res, err := c.VerifyOTP(context.Background(), VerifyOTPRequest{PhoneNumber: "09123456789", Code: "1234"})
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if res.Outcome != OutcomeOK {
		t.Errorf("Outcome = %v, want ok", res.Outcome)
	}
	if res.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", res.SessionID)
	}
	if len(res.User) == 0 {
		t.Error("User should be populated")
	}
}

func TestVerifyOTP_PartialSuccessIsNotLogin(t *testing.T) {
	cases := []map[string]any{
		{"success": true, "sessionId": "sess-1"},                      // no user
		{"success": true, "user": map[string]any{"id": "u-1"}},        // no sessionId
		{"success": true, "user": nil, "sessionId": "sess-1"},         // null user
	}
	for i, body := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(body)
		}))
		c := NewClient(server.URL, time.Second)
		res, err := c.VerifyOTP(context.Background(), VerifyOTPRequest{PhoneNumber: "09123456789", Code: "1234"})
		server.Close()
		if err != nil {
			t.Fatalf("case %d: VerifyOTP: %v", i, err)
		}
		if res.Outcome != OutcomeOther {
			t.Errorf("case %d: Outcome = %v, want other", i, res.Outcome)
		}
	}
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "wrong code entered"})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	res, err := c.VerifyOTP(context.Background(), VerifyOTPRequest{PhoneNumber: "09123456789", Code: "0000"})
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if res.Outcome != OutcomeWrongCode {
		t.Errorf("Outcome = %v, want wrong_code", res.Outcome)
	}
}
