package stt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	speechkit "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/stt/v3"
)

const SpeechKitEndpoint = "stt.api.cloud.yandex.net:443"

type SpeechKitConfig struct {
	IAMToken   string
	FolderID   string
	Language   string
	SampleRate int

	// Endpoint overrides SpeechKitEndpoint.
	Endpoint string
}

// SpeechKitConn is a RecognizeStreaming session with Yandex SpeechKit v3.
type SpeechKitConn struct {
	conn   *grpc.ClientConn
	stream speechkit.Recognizer_RecognizeStreamingClient
	cancel context.CancelFunc
	log    zerolog.Logger

	sendMu    sync.Mutex
	closeOnce sync.Once
}

// DialSpeechKit connects and sends the session options. The stream outlives
// ctx cancellation; it ends on Close.
func DialSpeechKit(ctx context.Context, cfg SpeechKitConfig, log zerolog.Logger) (*SpeechKitConn, error) {
	if cfg.IAMToken == "" || cfg.FolderID == "" {
		return nil, fmt.Errorf("speechkit: %w", ErrMissingCredential)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = SpeechKitEndpoint
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	if err != nil {
		return nil, fmt.Errorf("%w: speechkit connect: %w", ErrConnection, err)
	}

	md := metadata.Pairs(
		"authorization", "Bearer "+cfg.IAMToken,
		"x-folder-id", cfg.FolderID,
	)
	streamCtx, cancel := context.WithCancel(metadata.NewOutgoingContext(context.WithoutCancel(ctx), md))

	stream, err := speechkit.NewRecognizerClient(conn).RecognizeStreaming(streamCtx)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("%w: speechkit stream: %w", ErrConnection, err)
	}

	if err := stream.Send(sessionOptions(cfg)); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("%w: speechkit session options: %w", ErrConnection, err)
	}

	return &SpeechKitConn{conn: conn, stream: stream, cancel: cancel, log: log}, nil
}

func sessionOptions(cfg SpeechKitConfig) *speechkit.StreamingRequest {
	language := cfg.Language
	if language == "" {
		language = "ru-RU"
	}
	return &speechkit.StreamingRequest{
		Event: &speechkit.StreamingRequest_SessionOptions{
			SessionOptions: &speechkit.StreamingOptions{
				RecognitionModel: &speechkit.RecognitionModelOptions{
					AudioFormat: &speechkit.AudioFormatOptions{
						AudioFormat: &speechkit.AudioFormatOptions_RawAudio{
							RawAudio: &speechkit.RawAudio{
								AudioEncoding:     speechkit.RawAudio_LINEAR16_PCM,
								SampleRateHertz:   int64(cfg.SampleRate),
								AudioChannelCount: 1,
							},
						},
					},
					TextNormalization: &speechkit.TextNormalizationOptions{
						TextNormalization: speechkit.TextNormalizationOptions_TEXT_NORMALIZATION_ENABLED,
					},
					LanguageRestriction: &speechkit.LanguageRestrictionOptions{
						RestrictionType: speechkit.LanguageRestrictionOptions_WHITELIST,
						LanguageCode:    []string{language},
					},
					AudioProcessingType: speechkit.RecognitionModelOptions_REAL_TIME,
				},
			},
		},
	}
}

func (c *SpeechKitConn) SendAudio(pcm []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	err := c.stream.Send(&speechkit.StreamingRequest{
		Event: &speechkit.StreamingRequest_Chunk{
			Chunk: &speechkit.AudioChunk{Data: pcm},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

// Receive maps partial and final alternative updates to messages; other
// events (status, refinements, classifiers) are skipped.
func (c *SpeechKitConn) Receive() (Message, error) {
	for {
		resp, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			return Message{}, fmt.Errorf("%w: stream ended", ErrConnection)
		}
		if err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrConnection, err)
		}
		if msg, ok := speechKitMessage(resp); ok {
			return msg, nil
		}
	}
}

func speechKitMessage(resp *speechkit.StreamingResponse) (Message, bool) {
	if final := resp.GetFinal(); final != nil {
		alt := topAlternative(final)
		msg := Message{Text: strings.TrimSpace(alt.GetText()), IsFinal: true}
		if end := alt.GetEndTimeMs(); end > 0 {
			msg.Segment = fmt.Sprintf("%s/%d", resp.GetChannelTag(), end)
		}
		return msg, true
	}
	if partial := resp.GetPartial(); partial != nil {
		return Message{Text: strings.TrimSpace(topAlternative(partial).GetText())}, true
	}
	return Message{}, false
}

// topAlternative returns the first alternative with text, or nil. SpeechKit
// orders them by confidence.
func topAlternative(u *speechkit.AlternativeUpdate) *speechkit.Alternative {
	for _, alt := range u.GetAlternatives() {
		if strings.TrimSpace(alt.GetText()) != "" {
			return alt
		}
	}
	return nil
}

func (c *SpeechKitConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		if serr := c.stream.CloseSend(); serr != nil {
			c.log.Debug().Err(serr).Msg("close send failed")
		}
		c.sendMu.Unlock()
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
