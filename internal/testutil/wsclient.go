package testutil

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is a minimal WebSocket test client standing in for a game server.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// WSURL converts an httptest server URL ("http://...") into a ws:// URL for path.
func WSURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// DialWS connects to url, optionally sending header, and returns a test client.
//
// Precondition: url must use the ws or wss scheme.
// Postcondition: Returns a connected WSClient or fails the test.
func DialWS(t *testing.T, url string, header http.Header) *WSClient {
	t.Helper()
	start := time.Now()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dialing %s: %v (status %d) [%s]", url, err, status, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("ws client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send writes text as a single text frame.
func (c *WSClient) Send(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// SendBinary writes data as a single binary frame.
func (c *WSClient) SendBinary(data []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.t.Fatalf("sending binary frame: %v", err)
	}
}

// Read returns the next text frame, failing the test on timeout or error.
func (c *WSClient) Read(timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	if msgType != websocket.TextMessage {
		c.t.Fatalf("expected text frame, got type %d", msgType)
	}
	return string(data)
}

// ExpectClosed reads until the server closes the connection and returns the
// terminating error. Text frames received first are discarded.
func (c *WSClient) ExpectClosed(timeout time.Duration) error {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.t.Fatalf("connection still open after %s", timeout)
			}
			return err
		}
	}
}

// Close sends a normal close frame and closes the connection.
func (c *WSClient) Close() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.conn.Close()
}

// DialWSStatus attempts a handshake expected to be refused and returns the
// HTTP status the server answered with.
func DialWSStatus(t *testing.T, url string, header http.Header) int {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatalf("dialing %s: handshake unexpectedly succeeded", url)
	}
	if resp == nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}
