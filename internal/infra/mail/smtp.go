// Package mail delivers verification and password reset links by SMTP, or
// logs them when no SMTP host is configured.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	netmail "net/mail"
	"net/smtp"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/infra/config"
	"github.com/toolme/marketplace-api/internal/infra/logger"
)

const defaultTimeout = 15 * time.Second

// ErrDeliveryFailed wraps any SMTP transport or protocol failure.
var ErrDeliveryFailed = errors.New("mail: delivery failed")

// SMTPNotifier sends messages through an SMTP relay using implicit TLS,
// STARTTLS or plain transport depending on configuration.
type SMTPNotifier struct {
	cfg    config.SMTPSettings
	from   string
	logger *zap.Logger
	now    func() time.Time
}

// NewSMTPNotifier validates the sender address and builds the notifier.
func NewSMTPNotifier(cfg config.SMTPSettings, log *zap.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail: smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	sender := cfg.From
	if sender == "" {
		sender = cfg.User
	}
	address, err := netmail.ParseAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("mail: invalid sender address %q: %w", sender, err)
	}
	cfg.From = address.Address
	if cfg.FromName != "" {
		address.Name = cfg.FromName
	}

	return &SMTPNotifier{
		cfg:    cfg,
		from:   address.String(),
		logger: log,
		now:    time.Now,
	}, nil
}

// Send renders msg and delivers it within the configured timeout.
func (n *SMTPNotifier) Send(ctx context.Context, msg port.Message) error {
	body, err := buildMessage(n.from, msg, n.now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	if err := n.deliver(ctx, msg.Recipient, body); err != nil {
		n.logger.Error("smtp delivery failed",
			zap.String("kind", string(msg.Kind)),
			zap.String("recipient", logger.MaskEmail(msg.Recipient)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	n.logger.Info("email sent",
		zap.String("kind", string(msg.Kind)),
		zap.String("recipient", logger.MaskEmail(msg.Recipient)),
	)
	return nil
}

func (n *SMTPNotifier) deliver(ctx context.Context, to string, body []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	tlsConfig := &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if n.cfg.UseSSL {
		dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: n.cfg.Timeout}, Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		dialer := &net.Dialer{Timeout: n.cfg.Timeout}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = client.Close() }()

	if !n.cfg.UseSSL && !n.cfg.SkipStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if n.cfg.User != "" && n.cfg.Password != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp finish body: %w", err)
	}

	return client.Quit()
}

// DevNotifier stands in for SMTP when no host is configured. It logs every
// link and appends it to an optional file so local flows can be completed.
type DevNotifier struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewDevNotifier builds the fallback notifier. path may be empty.
func NewDevNotifier(path string, log *zap.Logger) *DevNotifier {
	return &DevNotifier{path: path, logger: log}
}

// Send never reports a delivery failure; write errors on the file are logged.
func (n *DevNotifier) Send(_ context.Context, msg port.Message) error {
	n.logger.Info("smtp not configured; link logged for development",
		zap.String("kind", string(msg.Kind)),
		zap.String("recipient", logger.MaskEmail(msg.Recipient)),
		zap.String("link", msg.Link),
	)

	if n.path == "" {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	f, err := os.OpenFile(n.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		n.logger.Warn("could not open dev mail file", zap.String("path", n.path), zap.Error(err))
		return nil
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "[ToolMe] %s: %s\n", msg.Kind, msg.Link); err != nil {
		n.logger.Warn("could not write dev mail file", zap.String("path", n.path), zap.Error(err))
	}
	return nil
}

var (
	_ port.Notifier = (*SMTPNotifier)(nil)
	_ port.Notifier = (*DevNotifier)(nil)
)
