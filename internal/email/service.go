package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"net/url"

	"github.com/authgate/authgate/internal/logging"
)

// Service sends account emails over SMTP. Sends are best-effort; callers
// run them in goroutines and only log failures.
type Service struct {
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromEmail    string
	frontendURL  string
	logger       *logging.Logger
}

func NewService(smtpHost, smtpPort, smtpUser, smtpPassword, frontendURL string, logger *logging.Logger) *Service {
	return &Service{
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
		fromEmail:    smtpUser,
		frontendURL:  frontendURL,
		logger:       logger,
	}
}

// SendVerificationEmail mails a verification link for the given code. The
// link points at the request's Origin when one was sent, otherwise at the
// configured frontend URL.
func (s *Service) SendVerificationEmail(ctx context.Context, toEmail, code, origin string) error {
	base := s.frontendURL
	if origin != "" {
		if _, err := url.Parse(origin); err == nil {
			base = origin
		}
	}
	verificationLink := fmt.Sprintf("%s/verify?token=%s", base, url.QueryEscape(code))

	body, err := s.renderVerificationEmail(verificationLink)
	if err != nil {
		s.logger.Error("failed to render verification email", "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.send(toEmail, "Verify your email address", body); err != nil {
		s.logger.Error("failed to send verification email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.Info("verification email sent", "email", toEmail)
	return nil
}

func (s *Service) send(to, subject, body string) error {
	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.fromEmail, to, subject, body,
	))

	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)
	return smtp.SendMail(addr, auth, s.fromEmail, []string{to}, msg)
}

var verificationTemplate = template.Must(template.New("verification").Parse(`
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Verify your email address</h2>
    <p>Thank you for signing up! Please click the link below to verify your email address and activate your account.</p>
    <p><a href="{{.VerificationLink}}">Verify Email Address</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p style="word-break: break-all;">{{.VerificationLink}}</p>
    <p>If you didn't create an account, you can safely ignore this email.</p>
    <p style="font-size: 12px; color: #666;">This link will expire in 24 hours.</p>
</body>
</html>
`))

func (s *Service) renderVerificationEmail(verificationLink string) (string, error) {
	var buf bytes.Buffer
	data := struct {
		VerificationLink string
	}{
		VerificationLink: verificationLink,
	}

	if err := verificationTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}
