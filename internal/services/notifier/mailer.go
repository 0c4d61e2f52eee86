package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Pricerus/internal/config/scheduler"
	"github.com/NordCoder/Pricerus/internal/domain/notification"
)

var _ notification.EmailSender = (*Mailer)(nil)

type Mailer struct {
	addr       string
	auth       smtp.Auth
	useTLS     bool
	timeout    time.Duration
	from       string
	subjPrefix string

	log *zap.Logger
}

func New(cfg config.SMTP) *Mailer {
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		host := host(cfg.Addr)
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, host)
	}
	return &Mailer{
		addr:       cfg.Addr,
		auth:       auth,
		useTLS:     cfg.UseTLS,
		timeout:    cfg.Timeout,
		from:       cfg.From,
		subjPrefix: cfg.SubjPrefix,
		log:        zap.L().With(zap.String("component", "notifier.mailer")),
	}
}

func (m *Mailer) WithLogger(l *zap.Logger) *Mailer {
	if l == nil {
		return m
	}
	cp := *m
	cp.log = l.With(zap.String("component", "notifier.mailer"))
	return &cp
}

// Send delivers a plain-text message. The whole exchange is bounded by the
// configured timeout and by ctx.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("header injection in recipient or subject")
	}
	subj := strings.TrimSpace(m.subjPrefix + " " + subject)
	msg := []byte(
		"From: " + m.from + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subj + "\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" + body + "\r\n")

	start := time.Now()
	log := m.log.With(
		zap.String("smtp_addr", m.addr),
		zap.Bool("tls", m.useTLS),
		zap.String("from", m.from),
		zap.String("to", to),
		zap.String("subject", subj),
	)

	dialer := net.Dialer{Timeout: m.timeout}

	var (
		conn net.Conn
		err  error
	)
	if m.useTLS {
		log.Debug("sending email (TLS)...")
		td := tls.Dialer{NetDialer: &dialer, Config: &tls.Config{ServerName: host(m.addr), MinVersion: tls.VersionTLS12}}
		conn, err = td.DialContext(ctx, "tcp", m.addr)
	} else {
		log.Debug("sending email (PLAIN)...")
		conn, err = dialer.DialContext(ctx, "tcp", m.addr)
	}
	if err != nil {
		log.Error("smtp dial failed", zap.Error(err))
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if m.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(m.timeout))
	}

	c, err := smtp.NewClient(conn, host(m.addr))
	if err != nil {
		log.Error("smtp client failed", zap.Error(err))
		return err
	}
	defer func() { _ = c.Close() }()

	if !m.useTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: host(m.addr), MinVersion: tls.VersionTLS12}); err != nil {
				log.Error("smtp starttls failed", zap.Error(err))
				return err
			}
		}
	}
	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				log.Error("smtp auth failed", zap.Error(err))
				return err
			}
		}
	}
	if err := c.Mail(m.from); err != nil {
		log.Error("smtp MAIL FROM failed", zap.Error(err))
		return err
	}
	if err := c.Rcpt(to); err != nil {
		log.Error("smtp RCPT TO failed", zap.Error(err))
		return err
	}
	w, err := c.Data()
	if err != nil {
		log.Error("smtp DATA failed", zap.Error(err))
		return err
	}
	if _, err = w.Write(msg); err != nil {
		log.Error("smtp write failed", zap.Error(err))
		return err
	}
	if err := w.Close(); err != nil {
		log.Error("smtp close failed", zap.Error(err))
		return err
	}
	_ = c.Quit()
	log.Info("email sent", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func host(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}
