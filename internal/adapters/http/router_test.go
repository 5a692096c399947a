package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/dkeye/Mesh/internal/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:       gin.TestMode,
		ReadLimit:  64 * 1024,
		PingPeriod: 9 * time.Second,
		PongWait:   10 * time.Second,
		WriteWait:  time.Second,
		SendBuffer: 16,
		Secret:     "test-secret",
	}
}

func newServer(t *testing.T) (*httptest.Server, *app.Relay) {
	t.Helper()
	reg := prometheus.NewRegistry()
	relay := app.NewRelay(app.NewRegistry(), core.NewRoomManager(), app.SimplePolicy{}, metrics.New(reg))
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, testConfig(), relay, reg))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, relay
}

func readMsg(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Parse(data)
	require.NoError(t, err)
	return msg
}

func TestSignalEndpointAndRoomsAPI(t *testing.T) {
	srv, _ := newServer(t)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/signal", nil)
	require.NoError(t, err)
	defer ws.Close()

	welcome := readMsg(t, ws)
	require.Equal(t, protocol.TypeWelcome, welcome.Type)

	join, _ := protocol.Message{Type: protocol.TypeJoin, Room: "standup"}.Encode()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, join))
	require.Equal(t, protocol.TypePeers, readMsg(t, ws).Type)

	res, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer res.Body.Close()
	var rooms struct {
		Rooms []struct {
			Name        string `json:"name"`
			MemberCount int    `json:"member_count"`
		} `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&rooms))
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, "standup", rooms.Rooms[0].Name)
	assert.Equal(t, 1, rooms.Rooms[0].MemberCount)

	res2, err := http.Get(srv.URL + "/api/rooms/standup/members")
	require.NoError(t, err)
	defer res2.Body.Close()
	var members struct {
		Members []string `json:"members"`
	}
	require.NoError(t, json.NewDecoder(res2.Body).Decode(&members))
	assert.Equal(t, []string{string(welcome.ID)}, members.Members)
}

func TestClientTokenCookie(t *testing.T) {
	srv, _ := newServer(t)
	res, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	res.Body.Close()
	assert.Contains(t, res.Header.Get("Set-Cookie"), "MeshSessions=")
}

func TestUnknownRoomMembers(t *testing.T) {
	srv, _ := newServer(t)
	res, err := http.Get(srv.URL + "/api/rooms/nobody/members")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newServer(t)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "mesh_signal_connections")
}
