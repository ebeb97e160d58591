package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-client/pkg/client"
	"github.com/ZentaChain/zentalk-client/pkg/crypto"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cl, err := client.New(client.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })
	require.NoError(t, cl.Login(""))
	return NewServer(cl, &Config{Addr: ":0", RateLimit: 0})
}

func do(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := testServer(t)
	w := do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIdentity(t *testing.T) {
	s := testServer(t)
	w := do(s, http.MethodGet, "/api/v1/identity", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp["pubkey"], 64)
}

func TestSendMessageWithoutRelays(t *testing.T) {
	s := testServer(t)
	peer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	w := do(s, http.MethodPost, "/api/v1/messages", MessageRequest{
		To:   peer.PublicKey(),
		Text: "hello",
	})
	// No relay is connected, the pool has nowhere to send
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSendMessageValidation(t *testing.T) {
	s := testServer(t)
	w := do(s, http.MethodPost, "/api/v1/messages", map[string]string{"to": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContactLifecycle(t *testing.T) {
	s := testServer(t)
	peer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	w := do(s, http.MethodPost, "/api/v1/contacts", ContactRequest{
		PubKey: peer.PublicKey(),
		Name:   "peer",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodGet, "/api/v1/contacts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), peer.PublicKey())

	w = do(s, http.MethodDelete, "/api/v1/contacts/"+peer.PublicKey(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAddContactRejectsBadKey(t *testing.T) {
	s := testServer(t)
	w := do(s, http.MethodPost, "/api/v1/contacts", ContactRequest{PubKey: "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJoinAndListChannels(t *testing.T) {
	s := testServer(t)
	const channelID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	w := do(s, http.MethodPost, "/api/v1/channels/"+channelID+"/join", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodGet, "/api/v1/channels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), channelID)

	w = do(s, http.MethodPost, "/api/v1/channels/"+channelID+"/leave", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPostToUnknownChannel(t *testing.T) {
	s := testServer(t)
	w := do(s, http.MethodPost, "/api/v1/channels/deadbeef/messages", ChannelPostRequest{Text: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadUnknownAttachment(t *testing.T) {
	s := testServer(t)
	w := do(s, http.MethodGet, "/api/v1/attachments/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCallStateIdle(t *testing.T) {
	s := testServer(t)
	w := do(s, http.MethodGet, "/api/v1/call", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "idle")
}

func TestRejectCallWhileIdle(t *testing.T) {
	s := testServer(t)
	w := do(s, http.MethodPost, "/api/v1/call/reject", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMuteCallWhileIdle(t *testing.T) {
	s := testServer(t)
	muted := true
	w := do(s, http.MethodPost, "/api/v1/call/mute", CallMuteRequest{Muted: &muted})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCallVideoValidation(t *testing.T) {
	s := testServer(t)
	w := do(s, http.MethodPost, "/api/v1/call/video", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRelayStatusesEmpty(t *testing.T) {
	s := testServer(t)
	w := do(s, http.MethodGet, "/api/v1/relays", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
