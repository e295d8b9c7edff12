package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/chadiek/homesync-voice/internal/dispatch"
	"github.com/chadiek/homesync-voice/internal/middleware"
	"github.com/chadiek/homesync-voice/internal/session"
)

// VoiceController is the part of the session manager the HTTP surface drives.
type VoiceController interface {
	Start(ctx context.Context, req session.Request) (session.StartResult, error)
	StartIfIdle(ctx context.Context, req session.Request) (session.StartResult, error)
	Stop()
	Reconfigure(ctx context.Context, req session.Request) (bool, error)
	Status() session.Status
	Subscribe(buf int) (<-chan session.Update, func())
}

// Deps bundles what the routes need. Calls and Tracker may be nil.
type Deps struct {
	Voice    VoiceController
	Calls    dispatch.Service
	Tracker  *dispatch.Tracker
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
}

type Options struct {
	ControlPassword string
	TwilioAuthToken string
	PublicBaseURL   string
}

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler

	deps Deps
	log  zerolog.Logger
}

// New constructs the HTTP server with routes.
func New(deps Deps, opts Options) *Server {
	s := &Server{deps: deps, log: deps.Log}
	e := NewRouter(deps.Log)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api", middleware.ControlAuth(opts.ControlPassword))
	api.GET("/voice", s.voiceStatus)
	api.POST("/voice/start", s.voiceStart)
	api.POST("/voice/stop", s.voiceStop)
	api.PUT("/voice/config", s.voiceConfig)
	api.GET("/voice/events", s.voiceEvents)
	if deps.Calls != nil {
		api.POST("/twilio-call", s.twilioCall)
		api.GET("/twilio-status", s.twilioStatus)
	}

	if deps.Tracker != nil {
		token := opts.TwilioAuthToken
		e.POST("/twilio/status", s.twilioCallback, middleware.TwilioAuth(func() string { return token }, opts.PublicBaseURL))
	}

	s.Router = e
	return s
}

type errorBody struct {
	Error string `json:"error"`
	Mode  string `json:"mode,omitempty"`
}
