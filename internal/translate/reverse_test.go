package translate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverse_ResolveEndpoint(t *testing.T) {
	rv := NewReverse("https://mcp.example.com/sse", nil)

	assert.Equal(t, "https://mcp.example.com/message?sessionId=x",
		rv.resolveEndpoint("/message?sessionId=x"))
	assert.Equal(t, "https://other.example.com/message",
		rv.resolveEndpoint("https://other.example.com/message"))
}

func TestReverse_RoundTrip(t *testing.T) {
	// Remote server: SSE stream announces the message endpoint, the
	// message endpoint answers frames inline.
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: endpoint\ndata: /message?sessionId=t1\n\n")
		flusher.Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		var frame struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&frame))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"echo":%q}}`, frame.ID, frame.Method)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- NewReverse(ts.URL+"/sse", nil).Run(ctx, stdinR, stdoutW)
	}()

	_, err := stdinW.Write([]byte(`{"jsonrpc":"2.0","id":9,"method":"tools/list"}` + "\n"))
	require.NoError(t, err)

	lineCh := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(stdoutR).ReadString('\n')
		if err == nil {
			lineCh <- line
		}
	}()

	select {
	case line := <-lineCh:
		var got struct {
			ID     int `json:"id"`
			Result struct {
				Echo string `json:"echo"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &got))
		assert.Equal(t, 9, got.ID)
		assert.Equal(t, "tools/list", got.Result.Echo)
	case <-time.After(5 * time.Second):
		t.Fatal("no response frame on stdout")
	}

	cancel()
	select {
	case <-runErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Run never returned after cancellation")
	}
}

func TestReverse_StreamClosedBeforeEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Close without ever announcing an endpoint.
	}))
	defer ts.Close()

	err := NewReverse(ts.URL, nil).Run(context.Background(), strings.NewReader(""), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint event")
}
