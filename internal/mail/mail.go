// Package mail delivers invite and password-reset links. Delivery is best
// effort: callers log failures and carry on, since the raw token is still
// returned to whoever triggered the operation.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"text/template"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// TLS modes for SMTPConfig.TLS.
const (
	TLSStartTLS = "starttls" // STARTTLS required
	TLSImplicit = "implicit" // TLS from the first byte, usually port 465
	TLSNone     = "none"     // plaintext, local relays only
)

const defaultSMTPTimeout = 15 * time.Second

// SMTPConfig configures an SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      string
	Timeout  time.Duration
}

// SMTPMailer delivers messages through an SMTP relay.
type SMTPMailer struct {
	cfg     SMTPConfig
	deliver func(ctx context.Context, msg *gomail.Msg) error
}

// NewSMTPMailer creates an SMTPMailer. An empty TLS mode means STARTTLS.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	m := &SMTPMailer{cfg: cfg}
	m.deliver = m.dialAndSend
	return m
}

// Send delivers msg, honoring ctx for the dial and the SMTP exchange.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := m.message(msg)
	if err != nil {
		return err
	}
	if err := m.deliver(ctx, out); err != nil {
		return fmt.Errorf("smtp send via %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}
	return nil
}

func (m *SMTPMailer) message(msg Message) (*gomail.Msg, error) {
	out := gomail.NewMsg()
	if err := out.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.cfg.From, err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	out.Subject(msg.Subject)
	out.SetDate()
	out.SetMessageID()
	out.SetBodyString(gomail.TypeTextPlain, msg.Body)
	return out, nil
}

func (m *SMTPMailer) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(m.cfg.Port),
		gomail.WithTimeout(m.cfg.Timeout),
	}
	switch m.cfg.TLS {
	case TLSImplicit:
		opts = append(opts, gomail.WithSSL())
	case TLSNone:
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password),
		)
	}
	return opts
}

func (m *SMTPMailer) dialAndSend(ctx context.Context, msg *gomail.Msg) error {
	client, err := gomail.NewClient(m.cfg.Host, m.clientOptions()...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// LogMailer writes a one-line record of each message to the logger instead
// of sending it. The body is never logged because it carries the raw token.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail delivery disabled, message not sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

var (
	inviteTmpl = template.Must(template.New("invite").Parse(`Hello {{.Username}},

You have been invited to become an administrator.

Accept the invitation and choose a password here:

  {{.Link}}

This link expires at {{.ExpiresAt}}. If you were not expecting this
invitation you can ignore this message.
`))

	resetTmpl = template.Must(template.New("reset").Parse(`Hello {{.Username}},

A password reset was requested for your administrator account.

Choose a new password here:

  {{.Link}}

This link expires at {{.ExpiresAt}} and can be used once. If you did not
request a reset you can ignore this message.
`))
)

const (
	invitePath = "/invite/accept"
	resetPath  = "/reset-password"
)

type linkData struct {
	Username  string
	Link      string
	ExpiresAt string
}

// Composer builds invite and reset messages with links rooted at a base URL.
type Composer struct {
	baseURL string
}

// NewComposer creates a Composer. baseURL is the externally reachable origin
// of the dashboard, e.g. https://admin.example.com.
func NewComposer(baseURL string) *Composer {
	return &Composer{baseURL: strings.TrimRight(baseURL, "/")}
}

// Invite builds the invitation message for a prospective admin.
func (c *Composer) Invite(to, username, token string, expiresAt time.Time) (Message, error) {
	body, err := c.execute(inviteTmpl, username, c.InviteLink(token), expiresAt)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "You have been invited as an administrator", Body: body}, nil
}

// PasswordReset builds the password reset message.
func (c *Composer) PasswordReset(to, username, token string, expiresAt time.Time) (Message, error) {
	body, err := c.execute(resetTmpl, username, c.ResetLink(token), expiresAt)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Reset your administrator password", Body: body}, nil
}

// InviteLink returns the acceptance link carrying an invite token.
func (c *Composer) InviteLink(token string) string {
	return c.link(invitePath, token)
}

// ResetLink returns the password reset link carrying a reset token.
func (c *Composer) ResetLink(token string) string {
	return c.link(resetPath, token)
}

func (c *Composer) link(path, token string) string {
	return c.baseURL + path + "?token=" + url.QueryEscape(token)
}

func (c *Composer) execute(t *template.Template, username, link string, expiresAt time.Time) (string, error) {
	var b bytes.Buffer
	err := t.Execute(&b, linkData{
		Username:  username,
		Link:      link,
		ExpiresAt: expiresAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return "", fmt.Errorf("render %s mail: %w", t.Name(), err)
	}
	return b.String(), nil
}
