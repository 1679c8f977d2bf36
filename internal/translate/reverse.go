package translate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Reverse connects to a remote MCP SSE endpoint and exposes it on local
// stdio: stdin frames are POSTed to the remote message endpoint, and
// stream events are written to stdout one frame per line.
type Reverse struct {
	sseURL string
	client *http.Client
	logger *slog.Logger

	outMu sync.Mutex
	out   io.Writer
}

// NewReverse builds a reverse bridge for the given SSE URL.
func NewReverse(sseURL string, logger *slog.Logger) *Reverse {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reverse{
		sseURL: sseURL,
		client: &http.Client{},
		logger: logger,
	}
}

// Run connects and pumps frames both ways until the stream ends, stdin
// closes, or ctx is cancelled.
func (rv *Reverse) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	rv.out = stdout

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rv.sseURL, nil)
	if err != nil {
		return fmt.Errorf("translate: building SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := rv.client.Do(req)
	if err != nil {
		return fmt.Errorf("translate: connecting to %s: %w", rv.sseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("translate: SSE endpoint answered %d", resp.StatusCode)
	}

	// The first endpoint event names the message URL; stdin pumping
	// starts once it arrives.
	msgURLCh := make(chan string, 1)
	streamErr := make(chan error, 1)

	go func() {
		streamErr <- rv.readStream(resp.Body, msgURLCh)
	}()

	var msgURL string
	select {
	case msgURL = <-msgURLCh:
	case err := <-streamErr:
		if err != nil {
			return err
		}
		return fmt.Errorf("translate: stream closed before endpoint event")
	case <-ctx.Done():
		return ctx.Err()
	}

	stdinErr := make(chan error, 1)
	go func() {
		stdinErr <- rv.pumpStdin(ctx, stdin, msgURL)
	}()

	select {
	case err := <-streamErr:
		return err
	case err := <-stdinErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readStream parses the SSE wire format, forwarding message events to
// stdout and the first endpoint event to endpointCh.
func (rv *Reverse) readStream(r io.Reader, endpointCh chan<- string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	var event string
	var data bytes.Buffer
	announced := false

	dispatch := func() {
		defer func() {
			event = ""
			data.Reset()
		}()
		if data.Len() == 0 {
			return
		}
		switch event {
		case "endpoint":
			if !announced {
				announced = true
				endpointCh <- rv.resolveEndpoint(strings.TrimSpace(data.String()))
			}
		case "message", "":
			rv.writeFrame(data.Bytes())
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("translate: reading SSE stream: %w", err)
	}
	return nil
}

// pumpStdin forwards newline-delimited frames from stdin to the message
// endpoint until EOF.
func (rv *Reverse) pumpStdin(ctx context.Context, stdin io.Reader, msgURL string) error {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := rv.post(ctx, msgURL, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rv.logger.Error("posting frame failed", "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("translate: reading stdin: %w", err)
	}
	return nil
}

func (rv *Reverse) post(ctx context.Context, msgURL string, frame []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msgURL, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rv.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Some servers answer the frame inline instead of on the stream.
	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
		if err == nil && len(bytes.TrimSpace(body)) > 0 {
			rv.writeFrame(body)
		}
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("message endpoint answered %d", resp.StatusCode)
	}
	return nil
}

// writeFrame emits one frame on stdout. The mutex keeps concurrent stream
// and inline responses from interleaving partial lines.
func (rv *Reverse) writeFrame(frame []byte) {
	rv.outMu.Lock()
	defer rv.outMu.Unlock()
	_, _ = rv.out.Write(frame)
	_, _ = rv.out.Write([]byte{'\n'})
}

// resolveEndpoint makes the announced message endpoint absolute against
// the SSE URL.
func (rv *Reverse) resolveEndpoint(endpoint string) string {
	base, err := url.Parse(rv.sseURL)
	if err != nil {
		return endpoint
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return base.ResolveReference(ref).String()
}
