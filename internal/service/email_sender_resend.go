package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/resendlabs/resend-go"
)

var ErrEmailNotConfigured = errors.New("email sender not configured")

type ResendEmailSender struct {
	client *resend.Client
	From   string
}

func NewResendEmailSender(apiKey string, from string) *ResendEmailSender {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" {
		return &ResendEmailSender{}
	}
	return &ResendEmailSender{
		client: resend.NewClient(apiKey),
		From:   from,
	}
}

func (s *ResendEmailSender) SendVerificationEmail(ctx context.Context, to string, name string, link string) error {
	body := fmt.Sprintf("<p>Hi %s,</p><p>Click to verify your email:</p><p><a href=\"%s\">Verify Email</a></p>",
		html.EscapeString(displayName(name, to)), link)
	text := fmt.Sprintf("Verify your email: %s", link)
	return s.send(ctx, to, "Verify your email", body, text)
}

func (s *ResendEmailSender) SendResetPasswordEmail(ctx context.Context, to string, name string, link string) error {
	body := fmt.Sprintf("<p>Hi %s,</p><p>Click to reset your password. The link expires in one hour.</p><p><a href=\"%s\">Reset Password</a></p>",
		html.EscapeString(displayName(name, to)), link)
	text := fmt.Sprintf("Reset your password: %s", link)
	return s.send(ctx, to, "Reset your password", body, text)
}

func (s *ResendEmailSender) SendAccountCreationEmail(ctx context.Context, to string, name string, link string) error {
	body := fmt.Sprintf("<p>Hi %s,</p><p>An account has been created for you.</p><p><a href=\"%s\">Sign in</a></p>",
		html.EscapeString(displayName(name, to)), link)
	text := fmt.Sprintf("An account has been created for you: %s", link)
	return s.send(ctx, to, "Your account is ready", body, text)
}

func (s *ResendEmailSender) send(ctx context.Context, to string, subject string, htmlBody string, text string) error {
	if s.client == nil {
		return ErrEmailNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.Emails.Send(&resend.SendEmailRequest{
		From:    s.From,
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
		Text:    text,
	})
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

func displayName(name string, email string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return email
}
