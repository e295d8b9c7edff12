package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/supabase-community/supabase-go"

	"github.com/chadiek/homesync-voice/internal/archive"
	"github.com/chadiek/homesync-voice/internal/capture"
	"github.com/chadiek/homesync-voice/internal/config"
	"github.com/chadiek/homesync-voice/internal/contacts"
	"github.com/chadiek/homesync-voice/internal/dispatch"
	"github.com/chadiek/homesync-voice/internal/httpserver"
	"github.com/chadiek/homesync-voice/internal/live"
	"github.com/chadiek/homesync-voice/internal/logging"
	"github.com/chadiek/homesync-voice/internal/metrics"
	"github.com/chadiek/homesync-voice/internal/persona"
	"github.com/chadiek/homesync-voice/internal/playback"
	"github.com/chadiek/homesync-voice/internal/session"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	personas, err := persona.Load(cfg.PersonasFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load personas")
	}

	var sb *supabase.Client
	if cfg.SupabaseConfigured() {
		sb, err = supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, &supabase.ClientOptions{})
		if err != nil {
			log.Error().Err(err).Msg("supabase client; contacts and archive fall back to local")
			sb = nil
		}
	}

	directory := loadDirectory(cfg, sb, log)
	tracker := dispatch.NewTracker(24 * time.Hour)
	calls := newDispatcher(cfg, directory, tracker, log)

	var arch *archive.Archive
	if sb != nil {
		arch = archive.New(archive.NewSupabaseStore(sb, cfg.SupabaseBucket), logging.Component(log, "archive"))
	}

	out, err := playback.NewOtoDevice(cfg.OutputSampleRate, time.Duration(cfg.PlaybackBufferMS)*time.Millisecond)
	if err != nil {
		log.Fatal().Err(err).Msg("open audio output")
	}
	defer func() { _ = out.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dialer, err := live.NewGeminiDialer(ctx, cfg.GeminiAPIKey, logging.Component(log, "live"))
	if err != nil {
		log.Fatal().Err(err).Msg("gemini client")
	}

	captureLog := logging.Component(log, "capture")
	params := capture.DefaultParams()
	params.SampleRate = cfg.InputSampleRate
	params.BlockSize = cfg.CaptureBlockSize

	manager := session.NewManager(session.Deps{
		Dialer:     dialer,
		NewSource:  func() capture.Source { return capture.NewPortAudioSource(captureLog) },
		Output:     out,
		Personas:   personas,
		Dispatcher: calls,
		Archive:    arch,
		Metrics:    m,
		Log:        logging.Component(log, "session"),
	}, session.Options{
		Model:    cfg.LiveModel,
		Voice:    cfg.LiveVoice,
		Capture:  params,
		Defaults: session.Request{Persona: persona.DefaultName, Language: cfg.DefaultLanguage, User: cfg.DefaultUser},
	})

	srv := httpserver.New(httpserver.Deps{
		Voice:    manager,
		Calls:    calls,
		Tracker:  tracker,
		Gatherer: reg,
		Log:      logging.Component(log, "http"),
	}, httpserver.Options{
		ControlPassword: cfg.ControlPassword,
		TwilioAuthToken: cfg.TwilioAuthToken,
		PublicBaseURL:   cfg.PublicBaseURL,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("voice shutdown incomplete")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}

func loadDirectory(cfg config.Config, sb *supabase.Client, log zerolog.Logger) contacts.Directory {
	if sb != nil {
		return contacts.NewSupabase(sb, cfg.SupabaseContactsTable)
	}
	if cfg.ContactsFile == "" {
		log.Warn().Msg("no contacts source configured; commands will not resolve recipients")
		return contacts.NewStatic(nil)
	}
	dir, err := contacts.LoadStatic(cfg.ContactsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load contacts")
	}
	return dir
}

func newDispatcher(cfg config.Config, dir contacts.Directory, tracker *dispatch.Tracker, log zerolog.Logger) dispatch.Service {
	log = logging.Component(log, "dispatch")
	if !cfg.TwilioConfigured() {
		return dispatch.NewSimulator(dir, tracker, log)
	}
	return dispatch.NewTwilio(dispatch.TwilioConfig{
		AccountSID:        cfg.TwilioAccountSID,
		AuthToken:         cfg.TwilioAuthToken,
		From:              cfg.TwilioPhoneNumber,
		WhatsAppFrom:      cfg.TwilioWhatsAppNumber,
		StatusCallbackURL: cfg.StatusCallbackURL(),
		SayLanguage:       cfg.DefaultLanguage,
	}, dir, tracker, log)
}
