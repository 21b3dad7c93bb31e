package display

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"threshcam/internal/frame"
	"threshcam/internal/wire"
)

type recordSink struct {
	name   string
	calls  *[]string
	err    error
	closed error
}

func (r *recordSink) Render(*frame.Frame) error {
	*r.calls = append(*r.calls, "render:"+r.name)
	return r.err
}

func (r *recordSink) Close() error {
	*r.calls = append(*r.calls, "close:"+r.name)
	return r.closed
}

func TestMultiRendersInOrderAndClosesInReverse(t *testing.T) {
	var calls []string
	m := NewMulti(&recordSink{name: "a", calls: &calls}, &recordSink{name: "b", calls: &calls})
	m.Add(Discard{})
	assert.Equal(t, 3, m.Len())

	f, err := frame.New(2, 2)
	require.NoError(t, err)
	require.NoError(t, m.Render(f))
	require.NoError(t, m.Close())

	assert.Equal(t, []string{"render:a", "render:b", "close:b", "close:a"}, calls)
}

func TestMultiStopsAtFirstError(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	m := NewMulti(&recordSink{name: "a", calls: &calls, err: boom}, &recordSink{name: "b", calls: &calls})

	f, err := frame.New(2, 2)
	require.NoError(t, err)
	err = m.Render(f)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"render:a"}, calls)
}

func TestMultiJoinsCloseErrors(t *testing.T) {
	var calls []string
	e1, e2 := errors.New("one"), errors.New("two")
	m := NewMulti(&recordSink{name: "a", calls: &calls, closed: e1}, &recordSink{name: "b", calls: &calls, closed: e2})

	err := m.Close()
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
}

func TestSnapshotsWritesEveryNth(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snaps")
	s, err := NewSnapshots(SnapshotConfig{Dir: dir, Every: 2})
	require.NoError(t, err)
	defer s.Close()

	for seq := uint64(1); seq <= 4; seq++ {
		f, err := frame.New(6, 4)
		require.NoError(t, err)
		f.Fill(uint8(seq * 40))
		f.Seq = seq
		require.NoError(t, s.Render(f))
	}
	assert.Equal(t, 2, s.Written())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	img := gocv.IMRead(filepath.Join(dir, "frame_00000004.png"), gocv.IMReadGrayScale)
	defer img.Close()
	require.False(t, img.Empty())
	assert.Equal(t, 6, img.Cols())
	assert.Equal(t, 4, img.Rows())
	assert.Equal(t, uint8(160), img.GetUCharAt(1, 1))
}

func TestSnapshotsRequiresDir(t *testing.T) {
	_, err := NewSnapshots(SnapshotConfig{})
	assert.Error(t, err)
}

func TestStreamEndpoints(t *testing.T) {
	s := NewStream(StreamConfig{}, func() any { return map[string]int{"frames": 3} }, nil)
	defer s.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, float64(0), payload["ws_clients"])
	assert.Equal(t, map[string]any{"frames": float64(3)}, payload["pipeline"])
}

func TestStreamRejectsWrongMethod(t *testing.T) {
	s := NewStream(StreamConfig{}, nil, nil)
	defer s.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/stats", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStreamBroadcastsFrames(t *testing.T) {
	s := NewStream(StreamConfig{}, nil, nil)
	defer s.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	f, err := frame.New(4, 3)
	require.NoError(t, err)
	f.Fill(7)
	f.Seq = 9
	require.NoError(t, s.Render(f))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)

	msg, err := wire.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), msg.Seq)
	assert.Equal(t, 4, msg.Width)
	assert.Equal(t, 3, msg.Height)
	assert.Equal(t, f.Pix, msg.Pix)
}

func TestStreamSkipsWithoutClients(t *testing.T) {
	s := NewStream(StreamConfig{}, nil, nil)
	defer s.Close()

	f, err := frame.New(2, 2)
	require.NoError(t, err)
	require.NoError(t, s.Render(f))
	assert.Len(t, s.messages, 0)
	assert.Zero(t, s.Dropped())
}
