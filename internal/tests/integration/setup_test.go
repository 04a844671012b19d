package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campusbridge/alumni-connect/internal/broker"
	"github.com/campusbridge/alumni-connect/internal/handlers"
	"github.com/campusbridge/alumni-connect/internal/models"
	"github.com/campusbridge/alumni-connect/internal/routes"
	"github.com/campusbridge/alumni-connect/internal/services"
	"github.com/campusbridge/alumni-connect/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testStack is the full HTTP + websocket server on an in-memory database.
type testStack struct {
	db     *gorm.DB
	broker *broker.Broker
	ws     *handlers.WSServer
	server *httptest.Server
}

func setupStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "alice", models.UserTypeStudent)
	testutil.CreateUser(t, db, "bob", models.UserTypeAlumni)

	users := services.NewUserDirectory(db)
	chat := services.NewConversationService(db, users)
	auth := services.NewTokenAuthenticator(users)

	reg := prometheus.NewRegistry()
	hub := broker.New(chat, auth, broker.Options{Metrics: broker.NewMetrics(reg)})
	users.SetPresence(hub.Presence())

	ws := handlers.NewWSServer(hub, handlers.RealtimeOptions{PingInterval: time.Second})
	r := routes.NewRouter(routes.Deps{
		Chat:        handlers.NewChatHandler(chat, users, hub),
		Auth:        auth,
		WS:          ws,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		FrontendURL: "http://localhost:5173",
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ws.Close()
		srv.Close()
	})
	return &testStack{db: db, broker: hub, ws: ws, server: srv}
}

func (s *testStack) apiURL() string { return s.server.URL + "/api" }

func (s *testStack) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
}

func performRequest(t *testing.T, s *testStack, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
