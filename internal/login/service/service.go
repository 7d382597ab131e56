// Package service implements the OTP login state machine: the two-step
// phone-entry/code-entry flow, the failed-attempt lockout, the debounced
// auto-verify, and the resend cooldown.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"forex-portal/login-gateway/internal/captcha"
	"forex-portal/login-gateway/internal/countdown"
	"forex-portal/login-gateway/internal/logging"
	"forex-portal/login-gateway/internal/login/domain"
	"forex-portal/login-gateway/internal/telemetry"
	"forex-portal/login-gateway/internal/upstream"
)

// Sentinel errors for the login service; the handler maps them to HTTP status codes.
var (
	ErrFlowClosed        = errors.New("login flow is closed")
	ErrWrongStep         = errors.New("action not allowed in the current step")
	ErrLocked            = errors.New("too many wrong codes; request a new code")
	ErrBusy              = errors.New("a submission is already in flight")
	ErrCooldownActive    = errors.New("resend is not available until the countdown expires")
	ErrChallengeNotReady = errors.New("no challenge is held; refresh and try again")
	ErrAnswerRequired    = errors.New("challenge answer is required")
	ErrAnswerInvalid     = errors.New("challenge answer must be a number")
)

// DomainError is an upstream-declared failure classified into a closed outcome.
// The raw upstream message rides along only for the generic fallback display.
type DomainError struct {
	Outcome           upstream.Outcome
	Message           string
	AttemptsRemaining int
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("login: %s", e.Outcome)
}

// Result is the verified-login hand-off: the upstream user object and session
// identifier, passed through to the caller untouched.
type Result struct {
	User      []byte `json:"user"`
	SessionID string `json:"sessionId"`
	IsNewUser bool   `json:"isNewUser"`
}

// Failure is the last user-facing failure of a flow, surfaced in state snapshots
// so the UI can render it after a debounced (fire-and-forget) verify.
type Failure struct {
	Kind              string `json:"kind"`
	Message           string `json:"message,omitempty"`
	AttemptsRemaining int    `json:"attemptsRemaining,omitempty"`
}

// Snapshot is the flow state exposed to the portal UI.
type Snapshot struct {
	FlowID            string   `json:"flowId"`
	Step              string   `json:"step"`
	PhoneNumber       string   `json:"phoneNumber"`
	CodeLength        int      `json:"codeLength"`
	IsLoading         bool     `json:"isLoading"`
	IsLocked          bool     `json:"isLocked"`
	FailedAttempts    int      `json:"failedAttempts"`
	AttemptsRemaining int      `json:"attemptsRemaining"`
	SecondsRemaining  int      `json:"secondsRemaining"`
	ResendAvailable   bool     `json:"resendAvailable"`
	CaptchaEnabled    bool     `json:"captchaEnabled"`
	ChallengeText     string   `json:"challengeText,omitempty"`
	ChallengeReady    bool     `json:"challengeReady"`
	IsNewUser         bool     `json:"isNewUser"`
	DevCode           string   `json:"developmentModeCode,omitempty"`
	Completed         bool     `json:"completed"`
	LastFailure       *Failure `json:"lastFailure,omitempty"`
}

// OTPClient is the minimal upstream surface needed by the state machine.
type OTPClient interface {
	SendOTP(ctx context.Context, req upstream.SendOTPRequest) (*upstream.SendOTPResult, error)
	VerifyOTP(ctx context.Context, req upstream.VerifyOTPRequest) (*upstream.VerifyResult, error)
}

// Options are the state-machine knobs, loaded from config.
type Options struct {
	CaptchaEnabled    bool
	CaptchaRetryDelay time.Duration
	CodeDebounce      time.Duration
	CooldownSeconds   int
	MaxAttempts       int
	DevExposeOTP      bool
}

// Service drives login flows against the portal API.
type Service struct {
	client    OTPClient
	challenge captcha.Getter
	opts      Options
	logger    *zap.Logger
	emitter   telemetry.EventEmitter
	// afterFunc schedules the auto-verify debounce; time.AfterFunc in production.
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// NewService returns a Service with the given dependencies. emitter may be nil
// (telemetry disabled).
func NewService(client OTPClient, challenge captcha.Getter, opts Options, logger *zap.Logger, emitter telemetry.EventEmitter) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:    client,
		challenge: challenge,
		opts:      opts,
		logger:    logger,
		emitter:   emitter,
		afterFunc: time.AfterFunc,
	}
}

// Flow is one login attempt: the state machine's working state plus its held
// challenge and resend countdown. All state changes happen under mu, which
// serializes actions and network-completion handlers the way the portal UI's
// event loop did.
type Flow struct {
	id string

	mu             sync.Mutex
	step           domain.Step
	phone          string
	code           string
	failedAttempts int
	locked         bool
	// inFlight guards against a second concurrent verify call, no matter how
	// many code-change events fire. Released in the completion path regardless
	// of outcome.
	inFlight  bool
	sending   bool
	closed    bool
	completed bool
	isNewUser bool
	devCode   string
	debounce  *time.Timer

	lastFailure *Failure
	result      *Result

	issuer    *captcha.Issuer
	countdown *countdown.Countdown
}

// ID returns the flow identifier.
func (f *Flow) ID() string { return f.id }

// NewFlow creates a flow in the phone-entry step and requests the first challenge.
// A failed first issuance is not fatal; the error stays visible on the issuer and
// the UI can refresh.
func (s *Service) NewFlow(ctx context.Context) *Flow {
	f := &Flow{
		id:        uuid.New().String(),
		step:      domain.StepPhone,
		countdown: countdown.New(),
	}
	if s.opts.CaptchaEnabled {
		f.issuer = captcha.NewIssuer(s.challenge, "login", s.opts.CaptchaRetryDelay)
		if err := f.issuer.Issue(ctx); err != nil {
			s.logger.Warn("initial challenge issuance failed", zap.String("flow_id", f.id), zap.Error(err))
		} else {
			telemetry.EmitAsync(s.emitter, ctx, s.event(f.id, telemetry.EventCaptchaIssued, "", ""))
		}
	}
	return f
}

// SubmitPhone validates the phone, consumes the held challenge, and dispatches an
// OTP. On success the flow moves to code entry with a fresh countdown and reset
// attempt accounting.
func (s *Service) SubmitPhone(ctx context.Context, f *Flow, rawPhone, answer string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.step != domain.StepPhone {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if f.sending || f.inFlight {
		f.mu.Unlock()
		return ErrBusy
	}
	phone := domain.NormalizePhone(rawPhone)
	if !domain.ValidPhone(phone) {
		f.mu.Unlock()
		return domain.ErrInvalidPhone
	}
	payload, err := s.consumeChallenge(f, answer)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.phone = phone
	f.sending = true
	f.mu.Unlock()

	return s.dispatch(ctx, f, phone, payload, telemetry.EventOTPSent)
}

// Resend re-dispatches the OTP after the countdown has expired, consuming the
// freshly held challenge. Success atomically clears the lockout and the counter
// and restarts the countdown; there is no other way out of a locked flow.
func (s *Service) Resend(ctx context.Context, f *Flow, answer string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.step != domain.StepCode {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if f.sending || f.inFlight {
		f.mu.Unlock()
		return ErrBusy
	}
	if !f.countdown.Expired() {
		f.mu.Unlock()
		return ErrCooldownActive
	}
	payload, err := s.consumeChallenge(f, answer)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	phone := f.phone
	f.sending = true
	f.mu.Unlock()

	return s.dispatch(ctx, f, phone, payload, telemetry.EventOTPResent)
}

// consumeChallenge builds the captcha payload for a dispatch. Caller holds f.mu.
func (s *Service) consumeChallenge(f *Flow, answer string) (*upstream.CaptchaPayload, error) {
	if !s.opts.CaptchaEnabled {
		return nil, nil
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, ErrAnswerRequired
	}
	n, err := strconv.Atoi(answer)
	if err != nil {
		return nil, ErrAnswerInvalid
	}
	payload := f.issuer.Consume(n)
	if payload == nil {
		return nil, ErrChallengeNotReady
	}
	return payload, nil
}

// dispatch runs the OTP send and applies the outcome. The consumed token is
// discarded as soon as the call completes, win or lose, and a fresh challenge is
// issued before the user can act again.
func (s *Service) dispatch(ctx context.Context, f *Flow, phone string, payload *upstream.CaptchaPayload, eventType string) error {
	res, err := s.client.SendOTP(ctx, upstream.SendOTPRequest{PhoneNumber: phone, Captcha: payload})

	if f.issuer != nil {
		f.issuer.Clear()
	}

	f.mu.Lock()
	f.sending = false
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	var out error
	switch {
	case err != nil:
		kind := upstream.KindOf(err)
		f.lastFailure = &Failure{Kind: kind.String()}
		s.logger.Warn("otp dispatch failed",
			zap.String("flow_id", f.id),
			zap.String("phone", logging.MaskPhone(phone)),
			zap.String("kind", kind.String()))
		out = err
	case res.Outcome == upstream.OutcomeOK:
		f.step = domain.StepCode
		f.failedAttempts = 0
		f.locked = false
		f.code = ""
		f.isNewUser = res.IsNewUser
		f.lastFailure = nil
		if s.opts.DevExposeOTP {
			f.devCode = res.DevCode
		}
		f.countdown.Start(s.opts.CooldownSeconds)
		s.logger.Info("otp dispatched",
			zap.String("flow_id", f.id),
			zap.String("phone", logging.MaskPhone(phone)),
			zap.Bool("is_new_user", res.IsNewUser))
		telemetry.EmitAsync(s.emitter, ctx, s.event(f.id, eventType, logging.MaskPhone(phone), upstream.OutcomeOK.String()))
	default:
		f.lastFailure = &Failure{Kind: res.Outcome.String(), Message: res.Message}
		out = &DomainError{Outcome: res.Outcome, Message: res.Message}
	}
	closed := f.closed
	f.mu.Unlock()

	if f.issuer != nil && !closed {
		if err := f.issuer.Issue(ctx); err == nil {
			telemetry.EmitAsync(s.emitter, ctx, s.event(f.id, telemetry.EventCaptchaIssued, "", ""))
		}
	}
	return out
}

// SetCode applies a code input change. When the code reaches 4 digits and the
// flow is neither locked nor mid-verify, a verify is scheduled after the
// debounce delay; a second digit-complete event within the window (e.g. a fast
// paste) just restarts the timer, so at most one verify fires.
func (s *Service) SetCode(f *Flow, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFlowClosed
	}
	if f.step != domain.StepCode {
		return ErrWrongStep
	}
	if f.locked {
		return ErrLocked
	}
	f.code = domain.NormalizeCode(raw)
	if len(f.code) == 4 && !f.inFlight {
		if f.debounce != nil {
			f.debounce.Stop()
		}
		f.debounce = s.afterFunc(s.opts.CodeDebounce, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_, _ = s.SubmitCode(ctx, f)
		})
	} else if len(f.code) < 4 && f.debounce != nil {
		f.debounce.Stop()
		f.debounce = nil
	}
	return nil
}

// SubmitCode verifies the entered code. Only a server-confirmed wrong code moves
// the attempt counter; transport and captcha failures leave it alone. The code
// field is cleared after every attempt, success or failure.
func (s *Service) SubmitCode(ctx context.Context, f *Flow) (*Result, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFlowClosed
	}
	if f.step != domain.StepCode {
		f.mu.Unlock()
		return nil, ErrWrongStep
	}
	if f.locked {
		f.mu.Unlock()
		return nil, ErrLocked
	}
	if f.inFlight {
		f.mu.Unlock()
		return nil, ErrBusy
	}
	if !domain.ValidCode(f.code) {
		f.mu.Unlock()
		return nil, domain.ErrInvalidCode
	}
	phone, code := f.phone, f.code
	f.inFlight = true
	if f.debounce != nil {
		f.debounce.Stop()
		f.debounce = nil
	}
	f.mu.Unlock()

	res, err := s.client.VerifyOTP(ctx, upstream.VerifyOTPRequest{PhoneNumber: phone, Code: code})

	f.mu.Lock()
	f.inFlight = false
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFlowClosed
	}
	f.code = ""
	var result *Result
	var out error
	switch {
	case err != nil:
		kind := upstream.KindOf(err)
		f.lastFailure = &Failure{Kind: kind.String()}
		s.logger.Warn("verify failed",
			zap.String("flow_id", f.id),
			zap.String("phone", logging.MaskPhone(phone)),
			zap.String("kind", kind.String()))
		out = err
	case res.Outcome == upstream.OutcomeOK:
		f.completed = true
		f.failedAttempts = 0
		f.locked = false
		f.lastFailure = nil
		f.isNewUser = res.IsNewUser
		result = &Result{User: res.User, SessionID: res.SessionID, IsNewUser: res.IsNewUser}
		f.result = result
		f.countdown.Stop()
		s.logger.Info("login verified",
			zap.String("flow_id", f.id),
			zap.String("phone", logging.MaskPhone(phone)),
			zap.Bool("is_new_user", res.IsNewUser))
		telemetry.EmitAsync(s.emitter, ctx, s.event(f.id, telemetry.EventOTPVerified, logging.MaskPhone(phone), upstream.OutcomeOK.String()))
	case res.Outcome == upstream.OutcomeWrongCode:
		f.failedAttempts++
		remaining := s.opts.MaxAttempts - f.failedAttempts
		if remaining <= 0 {
			remaining = 0
			f.locked = true
			s.logger.Warn("flow locked",
				zap.String("flow_id", f.id),
				zap.String("phone", logging.MaskPhone(phone)),
				zap.Int("failed_attempts", f.failedAttempts))
			telemetry.EmitAsync(s.emitter, ctx, s.event(f.id, telemetry.EventFlowLocked, logging.MaskPhone(phone), res.Outcome.String()))
		}
		f.lastFailure = &Failure{Kind: res.Outcome.String(), AttemptsRemaining: remaining}
		out = &DomainError{Outcome: res.Outcome, Message: res.Message, AttemptsRemaining: remaining}
	default:
		f.lastFailure = &Failure{Kind: res.Outcome.String(), Message: res.Message}
		out = &DomainError{Outcome: res.Outcome, Message: res.Message}
	}
	completed := f.completed
	closed := f.closed
	f.mu.Unlock()

	// The held token is single-use; discard it once any verify completes and,
	// unless the flow just finished, make sure a fresh one is on hand.
	if f.issuer != nil {
		f.issuer.Clear()
		if !completed && !closed {
			_ = f.issuer.Issue(ctx)
		}
	}
	return result, out
}

// RefreshChallenge re-issues the challenge on explicit user request. Races with
// an automatic post-dispatch refresh are tolerated; the last response wins.
func (s *Service) RefreshChallenge(ctx context.Context, f *Flow) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	issuer := f.issuer
	f.mu.Unlock()
	if issuer == nil {
		return nil
	}
	return issuer.Issue(ctx)
}

// BackToPhone returns to the phone-entry step for editing. The code is cleared,
// the phone kept; the countdown keeps running since a code is already out.
func (s *Service) BackToPhone(f *Flow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFlowClosed
	}
	f.step = domain.StepPhone
	f.code = ""
	if f.debounce != nil {
		f.debounce.Stop()
		f.debounce = nil
	}
	return nil
}

// Close tears the flow down: the countdown goroutine stops, the challenge is
// discarded, and any late network completion is dropped instead of applied.
func (s *Service) Close(f *Flow) {
	f.mu.Lock()
	f.closed = true
	if f.debounce != nil {
		f.debounce.Stop()
		f.debounce = nil
	}
	f.mu.Unlock()
	f.countdown.Stop()
	if f.issuer != nil {
		f.issuer.Close()
	}
}

// State returns the flow state exposed to the UI.
func (s *Service) State(f *Flow) Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := Snapshot{
		FlowID:            f.id,
		Step:              f.step.String(),
		PhoneNumber:       f.phone,
		CodeLength:        len(f.code),
		IsLocked:          f.locked,
		FailedAttempts:    f.failedAttempts,
		AttemptsRemaining: s.opts.MaxAttempts - f.failedAttempts,
		SecondsRemaining:  f.countdown.Remaining(),
		CaptchaEnabled:    s.opts.CaptchaEnabled,
		IsNewUser:         f.isNewUser,
		DevCode:           f.devCode,
		Completed:         f.completed,
		LastFailure:       f.lastFailure,
	}
	if snap.AttemptsRemaining < 0 {
		snap.AttemptsRemaining = 0
	}
	snap.IsLoading = f.sending || f.inFlight
	if f.issuer != nil {
		snap.ChallengeText = f.issuer.ChallengeText()
		snap.ChallengeReady = f.issuer.Held()
		snap.IsLoading = snap.IsLoading || f.issuer.Loading()
	}
	snap.ResendAvailable = f.step == domain.StepCode && f.countdown.Expired() && !f.sending && !f.inFlight
	return snap
}

// Result returns the verified-login hand-off, if the flow has completed.
func (s *Service) Result(f *Flow) *Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// event builds a telemetry event. phone is already masked by the caller.
func (s *Service) event(flowID, eventType, phone, outcome string) *telemetry.Event {
	return &telemetry.Event{
		FlowID:    flowID,
		EventType: eventType,
		Phone:     phone,
		Outcome:   outcome,
		Source:    "login-gateway",
		CreatedAt: time.Now().UTC(),
	}
}
