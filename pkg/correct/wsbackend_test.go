package correct

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoCorrectionServer accepts one request, echoes the prompt uppercased
// back as two delta frames, then an EOS frame — enough to exercise
// WSBackend's read loop and streaming contract without a real backend.
func echoCorrectionServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		var req map[string]string
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		upper := strings.ToUpper(req["prompt"])
		mid := len(upper) / 2
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(upper[:mid]))
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(upper[mid:]))
		_ = conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
}

func TestWSBackendInvokeStreamsDeltas(t *testing.T) {
	srv := echoCorrectionServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	backend := NewWSBackend("echo", wsURL)
	defer backend.Close()

	var deltas []string
	text, err := backend.Invoke(context.Background(), "sys", "hi there", func(frag string) {
		deltas = append(deltas, frag)
	})
	require.NoError(t, err)
	assert.Equal(t, "HI THERE", text)
	assert.Equal(t, strings.Join(deltas, ""), text)
	assert.NotEmpty(t, deltas)
}
