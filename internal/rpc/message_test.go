package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKinds(t *testing.T) {
	req, err := NewRequest("abc", "service.start", map[string]string{"name": "web"})
	require.NoError(t, err)
	assert.True(t, req.IsRequest())
	assert.False(t, req.IsNotification())
	assert.False(t, req.IsResponse())
	require.NoError(t, req.Validate())

	notif, err := NewNotification("service.started", map[string]string{"name": "web"})
	require.NoError(t, err)
	assert.True(t, notif.IsNotification())
	assert.False(t, notif.IsRequest())
	require.NoError(t, notif.Validate())

	resp, err := NewResponse(req.ID, map[string]bool{"ok": true})
	require.NoError(t, err)
	assert.True(t, resp.IsResponse())
	assert.False(t, resp.IsRequest())
	require.NoError(t, resp.Validate())

	errResp := NewErrorResponse(req.ID, Errorf(CodeServiceNotFound, "no such service"))
	assert.True(t, errResp.IsResponse())
	require.NoError(t, errResp.Validate())
}

func TestMessageValidateRejectsWrongVersion(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"1.0","id":"1","method":"ping"}`), &m))
	assert.Error(t, m.Validate())
}

func TestMessageValidateRejectsShapeless(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0"}`), &m))
	assert.Error(t, m.Validate())
}

func TestMessageIDString(t *testing.T) {
	req, err := NewRequest("my-id", "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "my-id", req.IDString())

	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`), &m))
	assert.Equal(t, "7", m.IDString())
}

func TestMessageParamsRoundTrip(t *testing.T) {
	type startParams struct {
		Name string `json:"name"`
	}
	req, err := NewRequest("1", "service.start", startParams{Name: "worker"})
	require.NoError(t, err)

	var p startParams
	require.NoError(t, req.UnmarshalParams(&p))
	assert.Equal(t, "worker", p.Name)
}
