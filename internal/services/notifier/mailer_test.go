package notifier

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	config "github.com/NordCoder/Pricerus/internal/config/scheduler"
)

// fakeSMTP accepts one session and returns the DATA payload on the channel.
func fakeSMTP(t *testing.T) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		write("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				write("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				write("250 OK")
			case cmd == "DATA":
				write("354 go ahead")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				out <- b.String()
				write("250 queued")
			case cmd == "QUIT":
				write("221 bye")
				return
			default:
				write("250 OK")
			}
		}
	}()
	return ln.Addr().String(), out
}

func TestMailer_SendPlain(t *testing.T) {
	addr, got := fakeSMTP(t)
	m := New(config.SMTP{
		Addr:       addr,
		From:       "noreply@pricerus.local",
		Timeout:    2 * time.Second,
		SubjPrefix: "[Pricerus]",
	}).WithLogger(zap.NewNop())

	err := m.Send(context.Background(), "buyer@example.com", "Price drop", "now 19.99")
	require.NoError(t, err)

	select {
	case data := <-got:
		assert.Contains(t, data, "To: buyer@example.com")
		assert.Contains(t, data, "Subject: [Pricerus] Price drop")
		assert.Contains(t, data, "now 19.99")
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestMailer_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m := New(config.SMTP{Addr: addr, From: "a@b", Timeout: 500 * time.Millisecond}).WithLogger(zap.NewNop())
	assert.Error(t, m.Send(context.Background(), "x@y", "s", "b"))
}

func TestMailer_RejectsHeaderInjection(t *testing.T) {
	m := New(config.SMTP{Addr: "127.0.0.1:1", From: "a@b"}).WithLogger(zap.NewNop())
	assert.Error(t, m.Send(context.Background(), "x@y\r\nBcc: evil@z", "s", "b"))
}
