package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/chadiek/homesync-voice/internal/codec"
)

// DefaultModel is the native-audio Live model.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// liveSession is the part of *genai.Session the channel uses.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// GeminiDialer opens channels to the Gemini Live API.
type GeminiDialer struct {
	client *genai.Client
	log    zerolog.Logger
}

func NewGeminiDialer(ctx context.Context, apiKey string, log zerolog.Logger) (*GeminiDialer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GeminiDialer{client: client, log: log}, nil
}

func (d *GeminiDialer) Dial(ctx context.Context, cfg Config) (Channel, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	sess, err := d.client.Live.Connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelOpen, err)
	}
	d.log.Info().Str("model", model).Msg("live session connected")
	return newGeminiChannel(sess, d.log), nil
}

func connectConfig(cfg Config) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Instruction != "" {
		lc.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(cfg.Instruction)}}
	}
	if cfg.InputTranscription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	return lc
}

type geminiChannel struct {
	session liveSession
	log     zerolog.Logger
	events  chan Event
	stopCh  chan struct{}

	mu       sync.Mutex
	stopped  bool
	closeErr error
}

func newGeminiChannel(sess liveSession, log zerolog.Logger) *geminiChannel {
	c := &geminiChannel{
		session: sess,
		log:     log,
		events:  make(chan Event, 64),
		stopCh:  make(chan struct{}),
	}
	go c.receive()
	return c
}

func (c *geminiChannel) Events() <-chan Event { return c.events }

func (c *geminiChannel) SendAudio(f codec.Frame) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrClosed
	}
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: f.Data, MIMEType: f.MIMEType()},
	})
}

func (c *geminiChannel) Close() error {
	c.mu.Lock()
	if c.stopped {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	var err error
	if cerr := c.session.Close(); cerr != nil {
		err = fmt.Errorf("%w: %v", ErrChannelClose, cerr)
	}
	c.mu.Lock()
	c.closeErr = err
	c.mu.Unlock()
	return err
}

func (c *geminiChannel) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *geminiChannel) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.stopCh:
		return false
	}
}

func (c *geminiChannel) receive() {
	defer close(c.events)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("live receive loop recovered")
			c.finish(fmt.Errorf("receive loop panic: %v", r))
		}
	}()
	for {
		msg, err := c.session.Receive()
		if err != nil {
			c.finish(err)
			return
		}
		for _, ev := range translate(msg) {
			if !c.emit(ev) {
				return
			}
		}
	}
}

// finish reports the end of the connection. After a local Close nobody is
// listening, so nothing is emitted.
func (c *geminiChannel) finish(err error) {
	if c.isStopped() {
		return
	}
	if err != nil && !c.emit(Event{Kind: EventError, Err: err}) {
		return
	}
	c.emit(Event{Kind: EventClose})
}

// translate maps one server message onto events in the order they should be applied.
func translate(msg *genai.LiveServerMessage) []Event {
	if msg == nil {
		return nil
	}
	var out []Event
	if msg.SetupComplete != nil {
		out = append(out, Event{Kind: EventOpen})
	}
	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	if t := sc.InputTranscription; t != nil && (t.Text != "" || t.Finished) {
		out = append(out, Event{Kind: EventInputTranscript, Text: t.Text, Finished: t.Finished})
	}
	if t := sc.OutputTranscription; t != nil && (t.Text != "" || t.Finished) {
		out = append(out, Event{Kind: EventOutputTranscript, Text: t.Text, Finished: t.Finished})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			mime := p.InlineData.MIMEType
			if mime == "" {
				mime = codec.MIMEType(codec.OutputSampleRate)
			}
			out = append(out, Event{Kind: EventAudio, Audio: p.InlineData.Data, MIMEType: mime})
		}
	}
	if sc.Interrupted {
		out = append(out, Event{Kind: EventInterrupted})
	}
	if sc.TurnComplete {
		out = append(out, Event{Kind: EventTurnComplete})
	}
	return out
}

var _ Channel = (*geminiChannel)(nil)
