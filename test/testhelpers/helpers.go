// Package testhelpers provides common utilities and helper functions for testing the collaboration server.
//
// It provides functions for minting tokens, dialing authenticated WebSocket connections,
// exchanging protocol messages, and asserting HTTP response properties.
package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gocollab/internal/auth"
)

// DefaultOrigin is the origin the default configuration allows.
const DefaultOrigin = "http://localhost:8080"

// Message is a decoded server message with its payload left raw.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// MintToken signs a one-hour token for id.
func MintToken(t *testing.T, authn *auth.JWTAuthenticator, id auth.Identity) string {
	t.Helper()
	token, err := authn.GenerateToken(id, time.Hour)
	if err != nil {
		t.Fatalf("Failed to mint token: %v", err)
	}
	return token
}

// WebSocketURL turns an httptest server URL into its /ws endpoint with token attached.
func WebSocketURL(serverURL, token string) string {
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}
	return wsURL
}

// ConnectWebSocket dials url with the given Origin header. On failure the
// handshake response status is returned alongside the error.
func ConnectWebSocket(url, origin string) (*websocket.Conn, int, error) {
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return ConnectWebSocketWithHeader(url, headers)
}

// ConnectWebSocketWithHeader dials url with arbitrary handshake headers.
func ConnectWebSocketWithHeader(url string, headers http.Header) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	conn, resp, err := dialer.Dial(url, headers)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}

// MustConnect dials serverURL as the holder of token and fails the test on error.
func MustConnect(t *testing.T, serverURL, token string) *websocket.Conn {
	t.Helper()
	conn, status, err := ConnectWebSocket(WebSocketURL(serverURL, token), DefaultOrigin)
	if err != nil {
		t.Fatalf("Failed to connect (status %d): %v", status, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes an envelope with the given type and payload.
func Send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	msg := map[string]any{"type": typ}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to send %s: %v", typ, err)
	}
}

// ReadMessage reads one message, waiting at most timeout.
func ReadMessage(conn *websocket.Conn, timeout time.Duration) (Message, error) {
	var msg Message
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return msg, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode %q: %w", data, err)
	}
	return msg, nil
}

// ReadUntil reads messages until one of type typ arrives, skipping others,
// and fails the test after timeout.
func ReadUntil(t *testing.T, conn *websocket.Conn, typ string, timeout time.Duration) Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s", typ)
		}
		msg, err := ReadMessage(conn, remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

// ExpectNone asserts that no message of type typ arrives within wait.
func ExpectNone(t *testing.T, conn *websocket.Conn, typ string, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		msg, err := ReadMessage(conn, time.Until(deadline))
		if err != nil {
			return
		}
		if msg.Type == typ {
			t.Errorf("Unexpected %s message: %s", typ, msg.Payload)
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
