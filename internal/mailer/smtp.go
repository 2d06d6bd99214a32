// Package mailer delivers finished resumes over SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"
)

// dialTimeout is the maximum time to establish an SMTP connection.
const dialTimeout = 30 * time.Second

// Config holds SMTP server connection parameters.
type Config struct {
	// Host is the SMTP server hostname (e.g., "smtp.gmail.com").
	Host string `yaml:"host"`

	// Port is the SMTP server port. Default: 587.
	Port int `yaml:"port"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// StartTLS upgrades a plain connection. Default: true unless the
	// port is 465 (implicit TLS).
	StartTLS bool `yaml:"starttls"`

	// From is the sender of resume emails.
	From string `yaml:"from"`
}

// Configured reports whether outbound mail can be sent.
func (c Config) Configured() bool {
	return c.Host != "" && c.From != ""
}

// ApplyDefaults fills the port and turns on STARTTLS for submission
// ports. The zero bool cannot be told apart from an explicit false, so
// implicit TLS is selected by port 465 alone.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 587
	}
	if !c.StartTLS && c.Port != 465 {
		c.StartTLS = true
	}
}

// Send connects to the SMTP server, authenticates when credentials are
// set, and delivers msg, a complete RFC 5322 message. Each call opens
// and closes its own connection; ctx bounds the dial.
func Send(ctx context.Context, cfg Config, recipients []string, msg []byte) error {
	if !cfg.Configured() {
		return fmt.Errorf("smtp not configured")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return fmt.Errorf("parse from address %q: %w", cfg.From, err)
	}
	rcpts, err := bareAddresses(recipients)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	if cfg.StartTLS {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: cfg.Host})
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create SMTP client on %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	if cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(from.Address); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}
	return client.Quit()
}

// bareAddresses reduces "Name <addr>" entries to unique bare addresses
// for RCPT TO.
func bareAddresses(list []string) ([]string, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	seen := make(map[string]bool, len(list))
	var out []string
	for _, a := range list {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		if !seen[parsed.Address] {
			seen[parsed.Address] = true
			out = append(out, parsed.Address)
		}
	}
	return out, nil
}
