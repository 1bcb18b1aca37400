package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/softcenter/internal/handlers/testutil"
	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/internal/realtime"
)

func TestRealtimeRejectsBadCallers(t *testing.T) {
	env := testutil.NewEnv(t)
	_, token := env.LoginAs(models.RoleUser)

	w := env.Request(http.MethodGet, "/ws", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Please authenticate", testutil.ErrorMessage(t, w))

	w = env.Request(http.MethodGet, "/ws?token=not-a-jwt", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.Request(http.MethodGet, "/ws?streams=admin.ledger&token="+token, nil, "")
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRealtimeDeliversLedgerEvents(t *testing.T) {
	env := testutil.NewEnv(t)
	_, token := env.LoginAs(models.RoleUser)

	server := httptest.NewServer(env.Router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.Hub.Subscribers(realtime.StreamLedger) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack struct {
		Event string                   `json:"event"`
		Data  realtime.SubscriptionAck `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, realtime.EventSubscribed, ack.Event)
	require.Equal(t, []string{realtime.StreamLedger}, ack.Data.Streams)

	w := env.Request(http.MethodPost, "/api/v1/user-software/slack/install", map[string]string{
		"name": "Slack", "version": "4.36.140",
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Stream string `json:"stream"`
		Event  string `json:"event"`
		Data   struct {
			Entry models.InstalledSoftware `json:"entry"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, realtime.StreamLedger, msg.Stream)
	require.Equal(t, realtime.EventLedgerUpserted, msg.Event)
	require.Equal(t, "slack", msg.Data.Entry.AppID)
}
