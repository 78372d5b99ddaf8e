package stt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DeepgramURL = "wss://api.deepgram.com/v1/listen"

	deepgramKeepAlive    = 5 * time.Second
	deepgramWriteTimeout = 5 * time.Second
)

type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int

	// URL overrides DeepgramURL.
	URL string

	// KeepAlive is the idle message period. Zero means the default.
	KeepAlive time.Duration
}

// DeepgramConn is a live transcription websocket. Audio goes out as binary
// frames of linear16 mono PCM; transcripts come back as JSON text frames.
type DeepgramConn struct {
	ws  *websocket.Conn
	log zerolog.Logger

	writeMu sync.Mutex

	stop      chan struct{}
	closeOnce sync.Once
}

type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramControl struct {
	Type string `json:"type"`
}

// DialDeepgram opens the streaming session.
func DialDeepgram(ctx context.Context, cfg DeepgramConfig, log zerolog.Logger) (*DeepgramConn, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram: %w", ErrMissingCredential)
	}

	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = DeepgramURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+cfg.APIKey)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("%w: deepgram dial: %w", ErrConnection, err)
	}

	c := &DeepgramConn{
		ws:   ws,
		log:  log,
		stop: make(chan struct{}),
	}

	interval := cfg.KeepAlive
	if interval <= 0 {
		interval = deepgramKeepAlive
	}
	go c.keepAlive(interval)

	return c, nil
}

func (c *DeepgramConn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.writeJSON(deepgramControl{Type: "KeepAlive"}); err != nil {
				c.log.Debug().Err(err).Msg("keepalive failed")
				return
			}
		}
	}
}

func (c *DeepgramConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
	return c.ws.WriteJSON(v)
}

func (c *DeepgramConn) SendAudio(pcm []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

// Receive blocks until the next transcript. Metadata and other control
// messages are skipped.
func (c *DeepgramConn) Receive() (Message, error) {
	for {
		var resp deepgramResponse
		if err := c.ws.ReadJSON(&resp); err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrConnection, err)
		}
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}
		msg := Message{
			Text:    resp.Channel.Alternatives[0].Transcript,
			IsFinal: resp.IsFinal,
		}
		if resp.IsFinal && resp.Duration > 0 {
			msg.Segment = fmt.Sprintf("%.3f+%.3f", resp.Start, resp.Duration)
		}
		return msg, nil
	}
}

// Close asks the server to finish the stream, then closes the socket.
func (c *DeepgramConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)

		if werr := c.writeJSON(deepgramControl{Type: "CloseStream"}); werr != nil {
			c.log.Debug().Err(werr).Msg("close stream message failed")
		}

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
