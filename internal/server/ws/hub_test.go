package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "Server", Trader: "0xaa"})
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readEnvelope(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Contains(t, string(status.Payload), `"mode":"server"`)

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, time.Second, 5*time.Millisecond)

	hub.BroadcastJSON(domain.ChannelPayments, domain.PaymentSession{ID: "s1", State: domain.PaymentSucceeded})
	env := readEnvelope(t, conn)
	assert.Equal(t, "payment", env.Type)
	var got domain.PaymentSession
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, "s1", got.ID)
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelPayments: true}}
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelPayments}})
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelEvaluations}})

	assert.False(t, c.isSubscribed(domain.ChannelPayments))
	assert.True(t, c.isSubscribed(domain.ChannelEvaluations))
}

func TestFrameWrapsPayload(t *testing.T) {
	data, err := frame(domain.ChannelEvaluations, []byte(`{"trader":"0xaa"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"evaluations","payload":{"trader":"0xaa"}}`, string(data))

	_, err = frame(domain.ChannelPayments, []byte(`not json`))
	assert.Error(t, err)
}
