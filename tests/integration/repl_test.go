package integration

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestInteractStickySession(t *testing.T) {
	u, err := url.Parse(BaseURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/interact/integration-test-session"
	u.RawQuery = "lang=py"

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer c.Close()

	first, _ := json.Marshal(map[string]string{"code": "marker = 'codebox-interact-123'"})
	require.NoError(t, c.WriteMessage(websocket.TextMessage, first))

	_, msg, err := c.ReadMessage()
	require.NoError(t, err)
	var firstTurn struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(msg, &firstTurn))
	require.NotEmpty(t, firstTurn.SessionID)

	second, _ := json.Marshal(map[string]string{"code": "print(marker)"})
	require.NoError(t, c.WriteMessage(websocket.TextMessage, second))

	c.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg2, err := c.ReadMessage()
	require.NoError(t, err)

	var secondTurn struct {
		Stdout string `json:"stdout"`
	}
	require.NoError(t, json.Unmarshal(msg2, &secondTurn))
	require.True(t, strings.Contains(secondTurn.Stdout, "codebox-interact-123"),
		"second turn should see the variable set by the first turn over the same websocket session")
}
