package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/internal/core/services"
	"camstream/internal/infrastructure/repositories/memory"
)

const testSDP = "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"

type serverFixture struct {
	server   *WebSocketServer
	registry ports.SessionRegistry
	http     *httptest.Server
}

func newServerFixture(t *testing.T, cfg ServerConfig, auth services.AuthService, wrap func(http.Handler) http.Handler) *serverFixture {
	t.Helper()
	registry := memory.NewMemorySessionRegistry()
	srv := NewWebSocketServer(registry, auth, cfg, zap.NewNop().Sugar(), nil)

	mux := http.NewServeMux()
	var ws http.Handler = http.HandlerFunc(srv.HandleWebSocket)
	if wrap != nil {
		ws = wrap(ws)
	}
	mux.Handle("/ws", ws)
	mux.HandleFunc("/health", srv.HealthCheck)

	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return &serverFixture{server: srv, registry: registry, http: hs}
}

func (f *serverFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (f *serverFixture) join(t *testing.T, code domain.SessionCode, role domain.Role) *websocket.Conn {
	t.Helper()
	ws := f.dial(t)
	require.NoError(t, sendJSON(ws, domain.ConnectMessage{SessionCode: code, Role: role, Timestamp: time.Now().UnixMilli()}))
	assert.Equal(t, domain.ConnectedMessage{}, readMessage(t, ws))
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) domain.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := Decode(data)
	require.NoError(t, err)
	return msg
}

func TestWebSocketServer_ConnectAcknowledged(t *testing.T) {
	f := newServerFixture(t, DefaultServerConfig(), nil, nil)
	f.join(t, "123456", domain.RoleBroadcaster)

	require.Eventually(t, func() bool {
		has, _ := f.registry.HasBroadcaster(context.Background(), "123456")
		return has
	}, time.Second, 10*time.Millisecond)
	assert.True(t, f.server.IsBroadcasting("123456"))
}

func TestWebSocketServer_FirstMessageMustBeConnect(t *testing.T) {
	f := newServerFixture(t, DefaultServerConfig(), nil, nil)
	ws := f.dial(t)

	require.NoError(t, sendJSON(ws, domain.PingMessage{Timestamp: 1}))
	msg := readMessage(t, ws)
	errMsg, ok := msg.(domain.ErrorMessage)
	require.True(t, ok)
	assert.Contains(t, errMsg.Message, "connect")

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "server closes the socket")
}

func TestWebSocketServer_RejectsBadSessionCode(t *testing.T) {
	f := newServerFixture(t, DefaultServerConfig(), nil, nil)
	ws := f.dial(t)

	require.NoError(t, sendJSON(ws, domain.ConnectMessage{SessionCode: "12ab", Role: domain.RoleViewer}))
	_, ok := readMessage(t, ws).(domain.ErrorMessage)
	assert.True(t, ok)
}

func TestWebSocketServer_OfferReplayedToLateViewer(t *testing.T) {
	f := newServerFixture(t, DefaultServerConfig(), nil, nil)
	broadcaster := f.join(t, "222222", domain.RoleBroadcaster)

	mid := "0"
	require.NoError(t, sendJSON(broadcaster, domain.OfferMessage{SDP: testSDP}))
	require.NoError(t, sendJSON(broadcaster, domain.ICECandidateMessage{Candidate: "candidate:1", SDPMid: &mid}))

	// Give the server time to cache both before the viewer arrives.
	time.Sleep(100 * time.Millisecond)

	viewer := f.join(t, "222222", domain.RoleViewer)

	offer, ok := readMessage(t, viewer).(domain.OfferMessage)
	require.True(t, ok)
	assert.Equal(t, testSDP, offer.SDP)
	assert.Equal(t, domain.SessionCode("222222"), offer.SessionCode)

	ice, ok := readMessage(t, viewer).(domain.ICECandidateMessage)
	require.True(t, ok)
	assert.Equal(t, "candidate:1", ice.Candidate)
	require.NotNil(t, ice.SDPMid)
	assert.Equal(t, "0", *ice.SDPMid)
}

func TestWebSocketServer_AnswerAndCandidatesReachBroadcaster(t *testing.T) {
	f := newServerFixture(t, DefaultServerConfig(), nil, nil)
	broadcaster := f.join(t, "333333", domain.RoleBroadcaster)
	viewer := f.join(t, "333333", domain.RoleViewer)

	require.NoError(t, sendJSON(broadcaster, domain.OfferMessage{SDP: testSDP}))
	_, ok := readMessage(t, viewer).(domain.OfferMessage)
	require.True(t, ok)

	require.NoError(t, sendJSON(viewer, domain.AnswerMessage{SDP: testSDP}))
	answer, ok := readMessage(t, broadcaster).(domain.AnswerMessage)
	require.True(t, ok)
	assert.Equal(t, domain.SessionCode("333333"), answer.SessionCode)

	require.NoError(t, sendJSON(viewer, domain.ICECandidateMessage{Candidate: "candidate:viewer"}))
	ice, ok := readMessage(t, broadcaster).(domain.ICECandidateMessage)
	require.True(t, ok)
	assert.Equal(t, "candidate:viewer", ice.Candidate)
}

func TestWebSocketServer_AnswerWithoutBroadcaster(t *testing.T) {
	f := newServerFixture(t, DefaultServerConfig(), nil, nil)
	viewer := f.join(t, "444444", domain.RoleViewer)

	require.NoError(t, sendJSON(viewer, domain.AnswerMessage{SDP: testSDP}))
	errMsg, ok := readMessage(t, viewer).(domain.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, errNoBroadcaster.Error(), errMsg.Message)
}

func TestWebSocketServer_RoleChecksAndMalformedFrames(t *testing.T) {
	f := newServerFixture(t, DefaultServerConfig(), nil, nil)
	viewer := f.join(t, "555555", domain.RoleViewer)

	require.NoError(t, sendJSON(viewer, domain.OfferMessage{SDP: testSDP}))
	_, ok := readMessage(t, viewer).(domain.ErrorMessage)
	assert.True(t, ok, "viewers may not offer")

	require.NoError(t, viewer.WriteMessage(websocket.TextMessage, []byte(`{"sdp":"v=0"}`)))
	_, ok = readMessage(t, viewer).(domain.ErrorMessage)
	assert.True(t, ok, "missing type is reported")

	require.NoError(t, sendJSON(viewer, domain.PingMessage{Timestamp: 42}))
	pong, ok := readMessage(t, viewer).(domain.PongMessage)
	require.True(t, ok, "connection survives bad frames")
	assert.Equal(t, int64(42), pong.Timestamp)
}

func TestWebSocketServer_BroadcasterLeaveNotifiesViewers(t *testing.T) {
	f := newServerFixture(t, DefaultServerConfig(), nil, nil)
	broadcaster := f.join(t, "666666", domain.RoleBroadcaster)
	viewer := f.join(t, "666666", domain.RoleViewer)

	broadcaster.Close()

	assert.Equal(t, domain.PeerDisconnectedMessage{}, readMessage(t, viewer))
	require.Eventually(t, func() bool { return !f.server.IsBroadcasting("666666") }, time.Second, 10*time.Millisecond)
}

func TestWebSocketServer_ReplacedBroadcasterDoesNotNotify(t *testing.T) {
	f := newServerFixture(t, DefaultServerConfig(), nil, nil)
	f.join(t, "777777", domain.RoleBroadcaster)
	viewer := f.join(t, "777777", domain.RoleViewer)
	second := f.join(t, "777777", domain.RoleBroadcaster)

	require.NoError(t, sendJSON(second, domain.OfferMessage{SDP: testSDP}))
	_, ok := readMessage(t, viewer).(domain.OfferMessage)
	assert.True(t, ok, "viewer sees the new broadcaster's offer, not a disconnect")
	assert.True(t, f.server.IsBroadcasting("777777"))
}

func TestWebSocketServer_MessageRateLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MessagesPerSecond = 1
	cfg.MessageBurst = 1
	f := newServerFixture(t, cfg, nil, nil)
	ws := f.join(t, "888888", domain.RoleViewer)

	require.NoError(t, sendJSON(ws, domain.PingMessage{Timestamp: 1}))
	require.NoError(t, sendJSON(ws, domain.PingMessage{Timestamp: 2}))

	_, ok := readMessage(t, ws).(domain.PongMessage)
	assert.True(t, ok)
	errMsg, ok := readMessage(t, ws).(domain.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, errRateLimited.Error(), errMsg.Message)
}

func TestWebSocketServer_TokenMustMatchSession(t *testing.T) {
	auth := services.NewAuthService("secret", time.Hour)
	claims := &services.Claims{SessionCode: "111111", Role: domain.RoleViewer}
	withClaims := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(services.WithClaims(r.Context(), claims)))
		})
	}
	f := newServerFixture(t, DefaultServerConfig(), auth, withClaims)

	ws := f.dial(t)
	require.NoError(t, sendJSON(ws, domain.ConnectMessage{SessionCode: "999999", Role: domain.RoleViewer}))
	_, ok := readMessage(t, ws).(domain.ErrorMessage)
	assert.True(t, ok)

	f.join(t, "111111", domain.RoleViewer)
}

func TestWebSocketServer_AuthRequiredWithoutToken(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.AuthRequired = true
	f := newServerFixture(t, cfg, services.NewAuthService("secret", time.Hour), nil)

	ws := f.dial(t)
	require.NoError(t, sendJSON(ws, domain.ConnectMessage{SessionCode: "111111", Role: domain.RoleViewer}))
	errMsg, ok := readMessage(t, ws).(domain.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, services.ErrUnauthorized.Error(), errMsg.Message)
}

func TestWebSocketServer_HealthCheck(t *testing.T) {
	f := newServerFixture(t, DefaultServerConfig(), nil, nil)
	f.join(t, "123123", domain.RoleBroadcaster)
	f.join(t, "123123", domain.RoleViewer)

	resp, err := http.Get(f.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["active_sessions"])
	assert.Equal(t, float64(2), body["connections"])
}
