package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// ErrKind classifies transport-level failures against the portal API.
type ErrKind int

const (
	// ErrKindUnknown is any failure that matched no other bucket.
	ErrKindUnknown ErrKind = iota
	// ErrKindConnRefused means the upstream host actively refused the connection.
	ErrKindConnRefused
	// ErrKindTimeout means the request or dial timed out. The challenge issuer retries
	// this kind once, silently.
	ErrKindTimeout
	// ErrKindEndpointConfig means the endpoint itself looks misconfigured: DNS failure,
	// TLS trouble, an unroutable path (404/405), or a non-JSON body.
	ErrKindEndpointConfig
)

// String returns the kind name for logs.
func (k ErrKind) String() string {
	switch k {
	case ErrKindConnRefused:
		return "conn_refused"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindEndpointConfig:
		return "endpoint_config"
	default:
		return "unknown"
	}
}

// Error is a classified upstream failure.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrKind from err, or ErrKindUnknown if err is not an upstream *Error.
func KindOf(err error) ErrKind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ErrKindUnknown
}

// classifyTransportError buckets a failed round trip. The matching mirrors the error
// surface of net/http: refused connections, deadline/timeout errors, and resolver/TLS
// failures each get their own kind so user-facing hints stay actionable.
func classifyTransportError(op string, err error) *Error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Error{Kind: ErrKindConnRefused, Op: op, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded), isNetTimeout(err):
		return &Error{Kind: ErrKindTimeout, Op: op, Err: err}
	case isDNSError(err), isTLSError(err):
		return &Error{Kind: ErrKindEndpointConfig, Op: op, Err: err}
	default:
		return &Error{Kind: ErrKindUnknown, Op: op, Err: err}
	}
}

// classifyStatus buckets a non-2xx upstream status. 404/405 on fixed well-known paths
// means the base URL points somewhere wrong.
func classifyStatus(op string, status int) *Error {
	err := fmt.Errorf("status %d", status)
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return &Error{Kind: ErrKindEndpointConfig, Op: op, Err: err}
	case http.StatusGatewayTimeout:
		return &Error{Kind: ErrKindTimeout, Op: op, Err: err}
	default:
		return &Error{Kind: ErrKindUnknown, Op: op, Err: err}
	}
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isDNSError(err error) bool {
	var de *net.DNSError
	return errors.As(err, &de)
}

func isTLSError(err error) bool {
	// crypto/tls errors carry no sentinel; match the stable prefix.
	return err != nil && strings.Contains(err.Error(), "tls:")
}

// Outcome is the closed set of domain outcomes the login state machine consumes.
type Outcome int

const (
	// OutcomeOK is a confirmed success.
	OutcomeOK Outcome = iota
	// OutcomeWrongCode is a server-confirmed wrong verification code. This is the only
	// outcome that drives the lockout counter.
	OutcomeWrongCode
	// OutcomeCaptchaExpired means the single-use captcha token already expired server-side.
	OutcomeCaptchaExpired
	// OutcomeCaptchaWrongAnswer means the user answered the challenge incorrectly.
	OutcomeCaptchaWrongAnswer
	// OutcomeSMSConfig hints at an SMS provider/panel configuration problem upstream.
	OutcomeSMSConfig
	// OutcomeOther is any other upstream-declared failure; shown as-is, never penalized.
	OutcomeOther
)

// String returns the outcome name for logs and telemetry.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeWrongCode:
		return "wrong_code"
	case OutcomeCaptchaExpired:
		return "captcha_expired"
	case OutcomeCaptchaWrongAnswer:
		return "captcha_wrong_answer"
	case OutcomeSMSConfig:
		return "sms_config"
	default:
		return "other"
	}
}

// The portal reports failures as free-form Persian/English text. All substring
// matching is confined to the two functions below so a backend move to explicit
// error codes touches only this file.

func classifyFailureMessage(msg string) Outcome {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, "expired", "منقضی"):
		return OutcomeCaptchaExpired
	case containsAny(m, "wrong answer", "incorrect answer", "پاسخ نادرست", "پاسخ اشتباه"):
		return OutcomeCaptchaWrongAnswer
	case containsAny(m, "sms panel", "sms provider", "پنل پیامک", "سامانه پیامک"):
		return OutcomeSMSConfig
	default:
		return OutcomeOther
	}
}

func classifyVerifyFailure(msg string) Outcome {
	m := strings.ToLower(msg)
	if containsAny(m, "wrong code", "incorrect code", "invalid code", "کد نادرست", "کد اشتباه", "کد وارد شده صحیح نیست") {
		return OutcomeWrongCode
	}
	return classifyFailureMessage(msg)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
