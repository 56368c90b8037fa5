package notifications

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyxium/dia-core/internal/safety"
)

type captureNotifier struct {
	mu       sync.Mutex
	levels   []string
	messages []string
	err      error
}

func (c *captureNotifier) SendAlert(level, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels = append(c.levels, level)
	c.messages = append(c.messages, message)
	return c.err
}

func escalation() safety.Alert {
	return safety.Alert{
		Kind:                 safety.AlertOverload,
		From:                 safety.LevelNormal,
		To:                   safety.LevelReduced,
		Breaches:             []string{"cpu=95.0% > 90.0%"},
		Sample:               safety.ResourceSample{CPUPct: 95, RAMPct: 60, LatencyMs: 120},
		MaxActiveInstruments: 2,
	}
}

func TestFormatGuardAlert_Overload(t *testing.T) {
	active := []string{"BTCUSDT", "ETHUSDT", "DOGEUSDT"}
	kept := []string{"BTCUSDT", "ETHUSDT"}

	level, msg := FormatGuardAlert(escalation(), active, kept)

	assert.Equal(t, LevelWarning, level)
	assert.Contains(t, msg, "Sustained overload detected (cpu=95.0% > 90.0%)")
	assert.Contains(t, msg, "Throttle level: NORMAL -> REDUCED")
	assert.Contains(t, msg, "Active instruments: 3 -> 2")
	assert.Contains(t, msg, "Disabled: DOGEUSDT")
	assert.Contains(t, msg, "decision model is unchanged")
}

func TestFormatGuardAlert_LevelsBySeverity(t *testing.T) {
	a := escalation()
	a.From, a.To = safety.LevelReduced, safety.LevelMinimal
	level, _ := FormatGuardAlert(a, nil, nil)
	assert.Equal(t, LevelError, level)

	a.Kind, a.From, a.To = safety.AlertRecovery, safety.LevelMinimal, safety.LevelReduced
	level, msg := FormatGuardAlert(a, nil, nil)
	assert.Equal(t, LevelSuccess, level)
	assert.Contains(t, msg, "MINIMAL -> REDUCED")
	assert.NotContains(t, msg, "Action:")
}

func TestMultiNotifier_DeliversToAllAndCombinesErrors(t *testing.T) {
	ok := &captureNotifier{}
	broken := &captureNotifier{err: errors.New("smtp down")}
	alsoBroken := &captureNotifier{err: errors.New("telegram 502")}

	m := NewMultiNotifier(broken, nil, ok, alsoBroken)
	assert.Equal(t, 3, m.Len())

	err := m.SendAlert(LevelWarning, "overload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Contains(t, err.Error(), "telegram 502")
	assert.Equal(t, []string{"overload"}, ok.messages)
}

func TestRateLimitedNotifier(t *testing.T) {
	inner := &captureNotifier{}
	n := NewRateLimitedNotifier(inner, safety.NewRateLimiter("alerts", 2, time.Hour))

	require.NoError(t, n.SendAlert(LevelInfo, "one"))
	require.NoError(t, n.SendAlert(LevelInfo, "two"))
	assert.ErrorIs(t, n.SendAlert(LevelInfo, "three"), ErrAlertDropped)

	assert.Equal(t, []string{"one", "two"}, inner.messages)
	assert.Equal(t, int64(1), n.Dropped())
}

func TestTelegramNotifier(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)

	type request struct {
		path string
		form url.Values
	}
	requests := make(chan request, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		requests <- request{path: r.URL.Path, form: r.PostForm}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL

	require.NoError(t, n.SendAlert(LevelError, "guard at MINIMAL"))
	got := <-requests
	assert.Equal(t, "/botTOKEN/sendMessage", got.path)
	assert.Equal(t, "42", got.form.Get("chat_id"))
	assert.Contains(t, got.form.Get("text"), "🚨 *DIA-Core Risk Alert*")
	assert.Contains(t, got.form.Get("text"), "guard at MINIMAL")

	status.Store(http.StatusBadGateway)
	assert.EqualError(t, n.SendAlert(LevelInfo, "x"), "telegram API returned status 502")
}

// fakeSMTP accepts a single message without TLS or auth
func fakeSMTP(t *testing.T) (addr string, received <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		reply := func(s string) { io.WriteString(conn, s+"\r\n") }
		reply("220 localhost ESMTP")

		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					out <- data.String()
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 OK")
			case cmd == "DATA":
				inData = true
				reply("354 go ahead")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()
	return ln.Addr().String(), out
}

func TestEmailNotifier_SendsMessage(t *testing.T) {
	addr, received := fakeSMTP(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	n := NewEmailNotifier(EmailConfig{
		Host:       host,
		Port:       port,
		From:       "dia-core@localhost",
		Recipients: []string{"ops@example.com"},
		Timeout:    2 * time.Second,
	})

	require.NoError(t, n.SendAlert(LevelWarning, "Sustained overload detected\nThrottle level: NORMAL -> REDUCED"))

	select {
	case msg := <-received:
		assert.Contains(t, msg, "Subject: [DIA-Core] WARNING: Sustained overload detected")
		assert.Contains(t, msg, "To: ops@example.com")
		assert.Contains(t, msg, "Throttle level: NORMAL -> REDUCED")
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestEmailNotifier_NoRecipientsIsNoop(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{Host: "127.0.0.1", Port: 1})
	assert.NoError(t, n.SendAlert(LevelInfo, "ignored"))
}
