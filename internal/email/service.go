// Package email sends account and sharing notifications over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
)

const appName = "Sheetapp"

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain-text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg := buildMessage(s.fromHeader(), to, subject, textBody, htmlBody)
	return s.send(s.server, s.auth, s.config.From, to, msg)
}

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
}

const boundary = "sheetapp-alt-boundary"

func buildMessage(from string, to []string, subject, textBody, htmlBody string) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{AppName: appName, UserName: userName, ResetURL: resetURL}
	html, err := render(passwordResetTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nReset your %s password here (valid for 1 hour):\n%s\n", userName, appName, resetURL)
	return s.SendHTMLEmail([]string{to}, "Reset your "+appName+" password", text, html)
}

type PageSharedData struct {
	AppName   string
	UserName  string
	GrantedBy string
	PageName  string
	Level     string
	PageURL   string
}

// SendPageSharedEmail tells a user they received a permission on a page.
func (s *Service) SendPageSharedEmail(to string, data PageSharedData) error {
	data.AppName = appName
	html, err := render(pageSharedTemplate, data)
	if err != nil {
		return fmt.Errorf("render page shared template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\n%s gave you %s access to %q:\n%s\n", data.UserName, data.GrantedBy, data.Level, data.PageName, data.PageURL)
	subject := fmt.Sprintf("%s shared %q with you", data.GrantedBy, data.PageName)
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const baseStyle = `body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #1a7f5a; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #1a7f5a; }`

var passwordResetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password. The link below expires in 1 hour.</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p class="link">{{.ResetURL}}</p>
    <div class="footer">
        <p>If you didn't request a password reset, you can ignore this email.</p>
    </div>
</body>
</html>`))

var pageSharedTemplate = template.Must(template.New("shared").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.PageName}} was shared with you</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <p>Hi {{.UserName}},</p>
    <p><strong>{{.GrantedBy}}</strong> gave you <strong>{{.Level}}</strong> access to the page <strong>{{.PageName}}</strong>.</p>
    <p><a href="{{.PageURL}}" class="button">Open page</a></p>
    <div class="footer">
        <p>You received this because a {{.AppName}} user shared a page with you.</p>
    </div>
</body>
</html>`))
