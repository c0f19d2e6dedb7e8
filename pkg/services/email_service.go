package services

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/steadyops/steward/pkg/cache"
	"github.com/steadyops/steward/pkg/config"
)

// Verification-code policy.
const (
	codeTTL         = 5 * time.Minute
	codeMaxAttempts = 3
	resendGuard     = 60 * time.Second
)

// EmailService sends and verifies password-reset codes. Codes live in Redis
// under a per-address key with a short TTL and a bounded number of attempts.
type EmailService struct {
	settings *config.Settings
	cache    *cache.Cache
}

// NewEmailService creates a new EmailService
func NewEmailService(settings *config.Settings, c *cache.Cache) *EmailService {
	return &EmailService{settings: settings, cache: c}
}

type storedCode struct {
	Code     string `json:"code"`
	Attempts int    `json:"attempts"`
}

func codeKey(email string) string {
	return "verification_code:" + email
}

// SendVerificationCode generates a 6-digit code, emails it, and stores it
// with a 5-minute TTL. The code is stored only after the SMTP send is
// accepted, so a failed send never leaves a dangling valid code. Re-sending
// within 60 seconds of the previous send is rejected.
func (s *EmailService) SendVerificationCode(ctx context.Context, email string) error {
	if !s.settings.EmailConfigured() {
		return fmt.Errorf("%w: email configuration is incomplete", ErrInvalidInput)
	}

	remaining, err := s.cache.TTL(ctx, codeKey(email))
	if err != nil {
		return err
	}
	if remaining > 0 {
		sinceSend := codeTTL - remaining
		if sinceSend < resendGuard {
			wait := int((resendGuard - sinceSend).Seconds())
			return NewValidationError("email",
				fmt.Sprintf("please wait %d seconds before requesting a new code", wait))
		}
	}

	code, err := randomCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	if err := s.send(email, code); err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}

	payload, err := json.Marshal(storedCode{Code: code})
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	return s.cache.Set(ctx, codeKey(email), string(payload), codeTTL)
}

// VerifyCode checks a submitted code. After three wrong attempts the code is
// invalidated; a correct code is consumed immediately.
func (s *EmailService) VerifyCode(ctx context.Context, email, code string) error {
	key := codeKey(email)
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: verification code expired or not found", ErrInvalidInput)
	}
	var stored storedCode
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		_ = s.cache.Delete(ctx, key)
		return fmt.Errorf("%w: verification code corrupted", ErrInvalidInput)
	}
	if stored.Attempts >= codeMaxAttempts {
		_ = s.cache.Delete(ctx, key)
		return fmt.Errorf("%w: too many attempts, request a new code", ErrInvalidInput)
	}
	if stored.Code == code {
		return s.cache.Delete(ctx, key)
	}

	// Re-store the bumped attempt count under the remaining TTL so a wrong
	// guess does not extend the code's life.
	stored.Attempts++
	remaining, err := s.cache.TTL(ctx, key)
	if err != nil || remaining <= 0 {
		remaining = time.Second
	}
	if payload, err := json.Marshal(stored); err == nil {
		_ = s.cache.Set(ctx, key, string(payload), remaining)
	}
	return fmt.Errorf("%w: invalid verification code", ErrInvalidInput)
}

// send delivers the code over SMTPS.
func (s *EmailService) send(to, code string) error {
	addr := net.JoinHostPort(s.settings.EmailHost, strconv.Itoa(s.settings.EmailPort))
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.settings.EmailHost, MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	client, err := smtp.NewClient(conn, s.settings.EmailHost)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", s.settings.EmailUsername, s.settings.EmailPassword, s.settings.EmailHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(s.settings.EmailUsername); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Verification Code\r\n"+
		"MIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n"+
		"<p>Your verification code is <b>%s</b>. It expires in 5 minutes.</p>\r\n",
		s.settings.EmailUsername, to, code)
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
