package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecLifecycle(t *testing.T) {
	t.Log("running a first exec with no session...")
	payload := map[string]any{
		"code": "print('lifecycle test success')",
		"lang": "py",
	}
	body, _ := json.Marshal(payload)

	resp, err := http.Post(BaseURL+"/exec", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var first struct {
		SessionID string `json:"session_id"`
		Stdout    string `json:"stdout"`
		Stderr    string `json:"stderr"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	assert.Contains(t, first.Stdout, "lifecycle test success")
	require.NotEmpty(t, first.SessionID)

	t.Log("running a second exec reusing the session, checking state persists...")
	payload2 := map[string]any{
		"code":       "x = 41\nprint(x + 1)",
		"lang":       "py",
		"session_id": first.SessionID,
	}
	body2, _ := json.Marshal(payload2)
	resp2, err := http.Post(BaseURL+"/exec", "application/json", bytes.NewReader(body2))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var second struct {
		SessionID string `json:"session_id"`
		Stdout    string `json:"stdout"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&second))
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Contains(t, second.Stdout, "42")

	payload3 := map[string]any{
		"code":       "print(x)",
		"lang":       "py",
		"session_id": first.SessionID,
	}
	body3, _ := json.Marshal(payload3)
	resp3, err := http.Post(BaseURL+"/exec", "application/json", bytes.NewReader(body3))
	require.NoError(t, err)
	var third struct {
		Stdout string `json:"stdout"`
	}
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&third))
	assert.Contains(t, third.Stdout, "41", "variable x should carry over from the previous turn's saved state")
}

func TestExecUnsupportedLanguageIsValidationError(t *testing.T) {
	payload := map[string]any{"code": "1", "lang": "cobol"}
	body, _ := json.Marshal(payload)

	resp, err := http.Post(BaseURL+"/exec", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
