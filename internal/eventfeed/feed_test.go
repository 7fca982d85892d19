package eventfeed

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rbright/murmur/internal/fsm"
)

func dialFeed(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestHealthz(t *testing.T) {
	server := httptest.NewServer(New(nil).Routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok\n", string(body))
}

func TestFeedBroadcastsPresenterEvents(t *testing.T) {
	feed := New(nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	feed.now = func() time.Time { return fixed }

	server := httptest.NewServer(feed.Routes())
	defer server.Close()

	first := dialFeed(t, server)
	second := dialFeed(t, server)
	require.Eventually(t, func() bool { return feed.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	feed.OnSessionStateChanged(fsm.StateActive)
	feed.OnInterimUpdate("hel")
	feed.OnSegmentAccepted("hello")
	feed.OnWarning("low-input-level", "quiet")
	feed.OnFatalError("finalize", "rejected")
	feed.OnTranscriptFinalized("abc", "hello")

	want := []Event{
		{Type: TypeState, State: "active", At: fixed},
		{Type: TypeInterim, Text: "hel", At: fixed},
		{Type: TypeSegment, Text: "hello", At: fixed},
		{Type: TypeWarning, Kind: "low-input-level", Message: "quiet", At: fixed},
		{Type: TypeFatal, Kind: "finalize", Message: "rejected", At: fixed},
		{Type: TypeFinalized, SessionID: "abc", Text: "hello", At: fixed},
	}
	for _, conn := range []*websocket.Conn{first, second} {
		for _, ev := range want {
			got := readEvent(t, conn)
			require.True(t, fixed.Equal(got.At))
			got.At = fixed
			require.Equal(t, ev, got)
		}
	}
}

func TestFeedForgetsDisconnectedClients(t *testing.T) {
	feed := New(nil)
	server := httptest.NewServer(feed.Routes())
	defer server.Close()

	conn := dialFeed(t, server)
	require.Eventually(t, func() bool { return feed.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return feed.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	feed.OnSegmentAccepted("nobody listening")
}

func TestServeStopsOnCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	feed := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- feed.Serve(ctx, lis)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}
