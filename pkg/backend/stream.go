package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// TranscriptDelta is one incremental recognition update from the
// dictation websocket.
type TranscriptDelta struct {
	Text    string
	IsFinal bool
}

// DictationStream is a live speech-to-text session over the service's
// websocket endpoint. Audio is sent incrementally with SendAudio and
// recognition updates arrive on Transcripts.
type DictationStream struct {
	conn        *websocket.Conn
	transcripts chan TranscriptDelta
	done        chan struct{}
	closed      atomic.Bool
	writeMu     sync.Mutex
	cancel      context.CancelFunc
	ctx         context.Context
}

type dictationMessage struct {
	Type    string `json:"type"` // "transcript", "done", "error"
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
}

// OpenDictationStream connects to the service's /ws endpoint and starts
// the read loop. The stream expects little-endian 16-bit PCM frames.
func (c *HTTPClient) OpenDictationStream(ctx context.Context, sampleRate int) (*DictationStream, error) {
	u, err := url.Parse(wsBaseURL(c.config.BaseURL) + "/ws")
	if err != nil {
		return nil, fmt.Errorf("backend: parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if c.config.Token != "" {
		headers.Set("Authorization", "Bearer "+c.config.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("backend: websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("backend: websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: websocket connect: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &DictationStream{
		conn:        conn,
		transcripts: make(chan TranscriptDelta, 100),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	go s.readLoop()
	return s, nil
}

// wsBaseURL rewrites an http(s) base URL to its ws(s) form.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func (s *DictationStream) readLoop() {
	defer func() {
		close(s.transcripts)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg dictationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			select {
			case s.transcripts <- TranscriptDelta{Text: msg.Text, IsFinal: msg.IsFinal}:
			case <-s.ctx.Done():
				return
			}
		case "done", "error":
			return
		}
	}
}

// SendAudio sends one PCM frame to the service.
func (s *DictationStream) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("backend: dictation stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Finalize signals end of input so pending audio is flushed into a final
// transcript. The stream stays open.
func (s *DictationStream) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("backend: dictation stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Transcripts returns the channel of recognition updates. It closes when
// the session ends.
func (s *DictationStream) Transcripts() <-chan TranscriptDelta {
	return s.transcripts
}

// Done returns a channel closed when the session has fully shut down.
func (s *DictationStream) Done() <-chan struct{} {
	return s.done
}

// Close shuts the stream down. Safe to call more than once.
func (s *DictationStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
