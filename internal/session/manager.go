package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chadiek/homesync-voice/internal/archive"
	"github.com/chadiek/homesync-voice/internal/capture"
	"github.com/chadiek/homesync-voice/internal/codec"
	"github.com/chadiek/homesync-voice/internal/dispatch"
	"github.com/chadiek/homesync-voice/internal/live"
	"github.com/chadiek/homesync-voice/internal/metrics"
	"github.com/chadiek/homesync-voice/internal/persona"
	"github.com/chadiek/homesync-voice/internal/playback"
	"github.com/chadiek/homesync-voice/internal/turn"
)

// Deps are the collaborators a Manager drives.
type Deps struct {
	Dialer live.Dialer
	// NewSource returns a fresh microphone source per session.
	NewSource  func() capture.Source
	Output     playback.Device
	Personas   *persona.Catalogue
	Dispatcher dispatch.Dispatcher
	// Archive may be nil.
	Archive *archive.Archive
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// Options tune a Manager.
type Options struct {
	Model           string
	Voice           string
	Capture         capture.Params
	Defaults        Request
	DispatchTimeout time.Duration
}

// Manager owns at most one live voice session at a time.
type Manager struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	// mu serialises start and stop. The event loop never takes it.
	mu  sync.Mutex
	cur *session

	// req is written with both locks held.
	stateMu sync.RWMutex
	req     Request
	state   State
	voice   VoiceState
	id      string

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int

	// background dispatches and archive uploads
	wg sync.WaitGroup
}

type session struct {
	id       string
	req      Request
	composed persona.Composed
	started  time.Time
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	capture   *capture.Pipeline
	channel   live.Channel
	scheduler *playback.Scheduler
	drained   chan struct{}

	// owned by the event loop until done is closed
	assembler *turn.Assembler
	turns     []turn.Turn
	opened    bool
	turnDone  bool
}

func NewManager(deps Deps, opts Options) *Manager {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	if opts.Capture.SampleRate == 0 {
		opts.Capture = capture.DefaultParams()
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 30 * time.Second
	}
	if opts.Defaults.Persona == "" {
		opts.Defaults.Persona = persona.DefaultName
	}
	if opts.Defaults.Language == "" {
		opts.Defaults.Language = "pt-BR"
	}
	return &Manager{
		deps:  deps,
		opts:  opts,
		log:   deps.Log,
		req:   opts.Defaults,
		state: StateIdle,
		voice: VoiceIdle,
		subs:  make(map[int]chan Update),
	}
}

// Start opens a session with req. If a session is already live it is stopped
// instead and ToggledOff is returned.
func (m *Manager) Start(ctx context.Context, req Request) (StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		m.teardown("toggled")
		return ToggledOff, nil
	}
	return m.launch(ctx, req)
}

// StartIfIdle opens a session with req unless one is already live, in which
// case it returns AlreadyRunning and leaves that session alone.
func (m *Manager) StartIfIdle(ctx context.Context, req Request) (StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		return AlreadyRunning, nil
	}
	return m.launch(ctx, req)
}

// launch must be called with mu held and no live session.
func (m *Manager) launch(ctx context.Context, req Request) (StartResult, error) {
	if err := m.startLocked(ctx, m.normalize(req)); err != nil {
		return StartFailed, err
	}
	return Started, nil
}

// Stop ends the live session, if any. It is safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return
	}
	m.teardown("stopped")
}

// Reconfigure changes the persona configuration. A live session is restarted
// so the new instruction takes effect; otherwise it applies to the next Start.
func (m *Manager) Reconfigure(ctx context.Context, req Request) (restarted bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req = m.normalize(req)
	if _, err := m.deps.Personas.Compose(req.Persona, req.User, req.Language); err != nil {
		return false, err
	}
	if m.cur == nil || m.cur.req == req {
		m.setRequest(req)
		return false, nil
	}
	m.teardown("reconfigured")
	return true, m.startLocked(ctx, req)
}

// Status returns the current state and configuration.
func (m *Manager) Status() Status {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return Status{
		State:    m.state,
		Voice:    m.voice,
		Session:  m.id,
		Persona:  m.req.Persona,
		Language: m.req.Language,
		User:     m.req.User,
	}
}

// Shutdown stops the session and waits for pending dispatches and uploads.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) normalize(req Request) Request {
	if req.Persona == "" {
		req.Persona = m.req.Persona
	}
	if req.Language == "" {
		req.Language = m.req.Language
	}
	if req.User == "" {
		req.User = m.req.User
	}
	return req
}

func (m *Manager) startLocked(ctx context.Context, req Request) error {
	composed, err := m.deps.Personas.Compose(req.Persona, req.User, req.Language)
	if err != nil {
		return err
	}
	m.setRequest(req)

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        uuid.NewString(),
		req:       req,
		composed:  composed,
		started:   time.Now(),
		ctx:       sctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		drained:   make(chan struct{}, 1),
		assembler: turn.NewAssembler(),
		turnDone:  true,
	}
	s.log = m.log.With().Str("session", s.id).Str("persona", composed.Persona).Logger()

	m.setSession(s.id)
	m.setState(StateConnecting)
	m.deps.Metrics.SessionsStarted.Inc()

	s.capture = capture.NewPipeline(m.deps.NewSource(), m.opts.Capture, s.log, m.deps.Metrics)
	if err := s.capture.Start(sctx); err != nil {
		m.abort(s, "device", err)
		return err
	}

	// The caller's ctx bounds the dial only; the channel outlives the request.
	stop := context.AfterFunc(ctx, cancel)
	ch, err := m.deps.Dialer.Dial(sctx, live.Config{
		Model:               m.opts.Model,
		Voice:               m.opts.Voice,
		Instruction:         composed.Instruction,
		InputMIME:           codec.MIMEType(m.opts.Capture.SampleRate),
		InputTranscription:  true,
		OutputTranscription: true,
	})
	if !stop() && err == nil {
		err = ctx.Err()
		_ = ch.Close()
	}
	if err != nil {
		if cerr := s.capture.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("capture close after failed dial")
		}
		if !errors.Is(err, live.ErrChannelOpen) {
			err = fmt.Errorf("%w: %w", live.ErrChannelOpen, err)
		}
		m.abort(s, "channel", err)
		return err
	}
	s.channel = ch

	s.scheduler = playback.NewScheduler(m.deps.Output, m.deps.Metrics)
	s.scheduler.OnDrained(func() {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	})

	m.cur = s
	go m.run(s)
	s.log.Info().Str("language", composed.Language).Msg("session connecting")
	return nil
}

func (m *Manager) abort(s *session, reason string, err error) {
	s.cancel()
	m.deps.Metrics.SessionStartFailures.WithLabelValues(reason).Inc()
	s.log.Error().Err(err).Str("reason", reason).Msg("session start failed")
	m.publish(Update{Kind: UpdateError, Session: s.id, Error: err.Error()})
	m.setSession("")
	m.setVoice(VoiceIdle)
	m.setState(StateIdle)
}

// teardown releases every resource of the current session. Each step runs
// even when an earlier one fails. Caller holds mu.
func (m *Manager) teardown(reason string) {
	s := m.cur
	m.setState(StateClosing)

	s.capture.Detach()
	s.cancel()
	if err := s.capture.Close(); err != nil {
		s.log.Warn().Err(err).Msg("capture close")
	}
	<-s.done
	s.scheduler.Halt()
	if err := s.channel.Close(); err != nil {
		m.deps.Metrics.ChannelCloseFailures.Inc()
		s.log.Warn().Err(err).Msg("channel close")
	}
	if s.opened {
		m.deps.Metrics.SessionsOpen.Dec()
	}
	m.cur = nil

	m.setState(StateClosed)
	m.setVoice(VoiceIdle)
	m.setSession("")
	m.setState(StateIdle)
	s.log.Info().Str("reason", reason).Int("turns", len(s.turns)).Msg("session ended")

	m.archive(s, reason)
}

// end is called from the event loop's goroutine when the backend goes away.
func (m *Manager) end(s *session, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != s {
		return
	}
	m.teardown(reason)
}

func (m *Manager) archive(s *session, reason string) {
	if m.deps.Archive == nil || len(s.turns) == 0 {
		return
	}
	rec := archive.Record{
		SessionID: s.id,
		Persona:   s.composed.Persona,
		Language:  s.composed.Language,
		User:      s.composed.User,
		StartedAt: s.started,
		EndedAt:   time.Now(),
		Reason:    reason,
		Turns:     s.turns,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.deps.Archive.Save(ctx, rec); err != nil {
			s.log.Warn().Err(err).Msg("archive transcript")
		}
	}()
}

func (m *Manager) setState(st State) {
	m.stateMu.Lock()
	changed := m.state != st
	m.state = st
	id := m.id
	m.stateMu.Unlock()
	if changed {
		m.publish(Update{Kind: UpdateState, Session: id, State: st.String()})
	}
}

func (m *Manager) setVoice(v VoiceState) {
	m.stateMu.Lock()
	changed := m.voice != v
	m.voice = v
	id := m.id
	m.stateMu.Unlock()
	if changed {
		m.publish(Update{Kind: UpdateVoice, Session: id, Voice: v})
	}
}

func (m *Manager) setRequest(req Request) {
	m.stateMu.Lock()
	m.req = req
	m.stateMu.Unlock()
}

func (m *Manager) setSession(id string) {
	m.stateMu.Lock()
	m.id = id
	m.stateMu.Unlock()
}
