package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liuran001/MusicPlayer-Go/core/audio"
	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/liuran001/MusicPlayer-Go/core/player"
	"github.com/liuran001/MusicPlayer-Go/core/plugin"
	"github.com/liuran001/MusicPlayer-Go/core/worker"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoFactory() plugin.Source {
	return plugin.Source{Factory: &plugin.Factory{
		Name: "echo",
		Text: "factory:echo",
		New: func(plugin.FactoryEnv) (*plugin.Instance, error) {
			return plugin.NewInstance(plugin.Instance{Platform: "echo", Version: "1"}, map[plugin.Capability]plugin.Method{
				plugin.CapSearch: func(ctx context.Context, args ...any) (any, error) {
					return map[string]any{
						"isEnd": true,
						"data":  []any{map[string]any{"id": "1", "title": args[0]}},
					}, nil
				},
			}), nil
		},
	}}
}

type fixture struct {
	server   *Server
	http     *httptest.Server
	player   *player.TrackPlayer
	registry *plugin.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool := worker.New(2, nil)
	fsys := afero.NewMemMapFs()
	registry := plugin.NewRegistry(plugin.RegistryOptions{Fs: fsys, Builtins: []plugin.Source{echoFactory()}})
	require.NoError(t, registry.LoadAll(context.Background(), "/plugins"))
	p := player.New(player.Options{Backend: audio.NewNull()})

	s := New(Options{Player: p, Plugins: registry, Pool: pool})
	ctx, cancel := context.WithCancel(context.Background())
	s.Run(ctx)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
		_ = s.Shutdown(context.Background())
		_ = p.Close()
		_ = pool.Shutdown(context.Background())
	})
	return &fixture{server: s, http: ts, player: p, registry: registry}
}

func (f *fixture) post(t *testing.T, intent, body string) (int, Message) {
	t.Helper()
	resp, err := http.Post(f.http.URL+"/intents/"+intent, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var msg Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	return resp.StatusCode, msg
}

func TestIntentOverHTTP(t *testing.T) {
	f := newFixture(t)

	status, msg := f.post(t, "addToEnd", `{"items":[{"platform":"echo","id":"1"},{"platform":"echo","id":"2"}]}`)
	require.Equal(t, http.StatusOK, status, msg.Error)
	assert.True(t, msg.OK)

	resp, err := http.Get(f.http.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap player.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Len(t, snap.Queue, 2)
	assert.Equal(t, -1, snap.CurrentIndex)
}

func TestIntentErrors(t *testing.T) {
	f := newFixture(t)

	status, msg := f.post(t, "fly", `{}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, msg.Error, "unknown intent")

	status, msg = f.post(t, "setRepeatMode", `{"mode":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, msg.OK)

	status, _ = f.post(t, "seek", `{"seconds":`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, msg = f.post(t, "search", `{"platform":"missing","query":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, msg.Error, "plugin not found")
}

func TestSearchThroughPlugin(t *testing.T) {
	f := newFixture(t)

	status, msg := f.post(t, "search", `{"platform":"echo","query":"hello"}`)
	require.Equal(t, http.StatusOK, status, msg.Error)

	var res media.SearchResult
	require.NoError(t, media.Decode(msg.Data, &res))
	require.Len(t, res.Music, 1)
	assert.Equal(t, "hello", res.Music[0].Title)
	assert.Equal(t, "echo", res.Music[0].Platform)
}

func TestPluginsEndpointAndInstall(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/plugins")
	require.NoError(t, err)
	var delegates []plugin.Delegate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&delegates))
	resp.Body.Close()
	require.Len(t, delegates, 1)
	assert.Equal(t, "echo", delegates[0].Name)
	assert.Contains(t, delegates[0].SupportedMethod, "search")

	body, err := json.Marshal(map[string]string{"name": "beta", "source": "package p\n\nvar Platform = \"beta\"\n"})
	require.NoError(t, err)
	status, msg := f.post(t, "installPlugin", string(body))
	require.Equal(t, http.StatusOK, status, msg.Error)
	assert.Len(t, f.registry.Delegates(), 2)
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func TestWebsocketBridge(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	snap := readUntil(t, conn, func(m Message) bool { return m.Type == TypeSnapshot })
	assert.NotNil(t, snap.Data)
	readUntil(t, conn, func(m Message) bool { return m.Type == TypePlugins })
	require.Eventually(t, func() bool { return f.server.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Request{ID: "v1", Intent: "setVolume", Args: json.RawMessage(`{"volume":0.25}`)}))

	var sawEvent, sawReply bool
	readUntil(t, conn, func(m Message) bool {
		switch {
		case m.Type == TypeReply && m.ID == "v1":
			assert.True(t, m.OK, m.Error)
			sawReply = true
		case m.Type == TypeEvent:
			if ev, ok := m.Data.(map[string]any); ok && ev["kind"] == "volume" {
				assert.Equal(t, 0.25, ev["volume"])
				sawEvent = true
			}
		}
		return sawEvent && sawReply
	})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	bad := readUntil(t, conn, func(m Message) bool { return m.Type == TypeReply })
	assert.Equal(t, "malformed request", bad.Error)
}

func TestDispatchRejectsUnknownIntent(t *testing.T) {
	s := New(Options{})
	_, err := s.Dispatch(context.Background(), Request{Intent: "pause"})
	assert.ErrorIs(t, err, ErrUnknownIntent)
}
