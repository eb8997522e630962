// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSTransport reaches an instrument attached to a remote bench through a
// websocket-to-serial bridge. Binary messages carry the raw UART byte
// stream in both directions; the line protocol on top is unchanged.
type WSTransport struct {
	conn *websocket.Conn
	log  logrus.FieldLogger

	readTimeout time.Duration

	buf       []byte
	bufOffset int

	closeOnce sync.Once
	closeErr  error
	failed    bool
}

// OpenWebSocket dials a ws:// or wss:// bridge URL with optional HTTP
// Basic credentials.
func OpenWebSocket(rawURL, username, password string, insecure bool, log logrus.FieldLogger) (*WSTransport, error) {
	log = ensureLogger(log)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("v7x: invalid bridge URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("v7x: unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("v7x: bridge connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("v7x: bridge connection failed: %w", err)
	}

	log.WithField("url", rawURL).Info("connected to websocket bridge")
	return &WSTransport{conn: conn, log: log, readTimeout: DefaultReadTimeout}, nil
}

// Read returns the next bridge bytes, waiting up to the configured read
// timeout. An expired deadline with nothing received returns (0, nil).
func (t *WSTransport) Read(p []byte) (int, error) {
	if t.failed {
		return 0, ErrClosed
	}

	if t.bufOffset < len(t.buf) {
		n := copy(p, t.buf[t.bufOffset:])
		t.bufOffset += n
		return n, nil
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return 0, fmt.Errorf("v7x: bridge read deadline: %w", err)
	}

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return 0, nil
			}
			t.failed = true
			return 0, fmt.Errorf("v7x: bridge read: %w", err)
		}

		// Only binary frames carry UART data; skip anything else.
		if messageType != websocket.BinaryMessage {
			continue
		}

		t.buf = data
		t.bufOffset = 0
		n := copy(p, t.buf)
		t.bufOffset = n
		return n, nil
	}
}

// Write sends p as one binary frame.
func (t *WSTransport) Write(p []byte) (int, error) {
	if t.failed {
		return 0, ErrClosed
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return 0, fmt.Errorf("v7x: bridge write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		t.failed = true
		return 0, fmt.Errorf("v7x: bridge write: %w", err)
	}
	return len(p), nil
}

// SetReadTimeout bounds the wait for the next bridge frame.
func (t *WSTransport) SetReadTimeout(d time.Duration) error {
	t.readTimeout = d
	return nil
}

// Flush drops locally buffered receive data; the bridge offers no remote
// FIFO control.
func (t *WSTransport) Flush(tx, rx bool) error {
	if rx {
		t.buf = nil
		t.bufOffset = 0
	}
	return nil
}

// Close shuts the websocket down. Safe to call more than once.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		t.failed = true
		t.closeErr = t.conn.Close()
		t.log.Debug("closed websocket bridge")
	})
	return t.closeErr
}
