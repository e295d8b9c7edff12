package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/homesync-voice/internal/capture"
	"github.com/chadiek/homesync-voice/internal/live"
	"github.com/chadiek/homesync-voice/internal/persona"
	"github.com/chadiek/homesync-voice/internal/session"
)

type startResponse struct {
	Result string         `json:"result"`
	Status session.Status `json:"status"`
}

func (s *Server) voiceStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Voice.Status())
}

func (s *Server) voiceStart(c echo.Context) error {
	var req session.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}
	res, err := s.deps.Voice.Start(c.Request().Context(), req)
	if err != nil {
		return c.JSON(statusFor(err), errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, startResponse{Result: res.String(), Status: s.deps.Voice.Status()})
}

func (s *Server) voiceStop(c echo.Context) error {
	s.deps.Voice.Stop()
	return c.JSON(http.StatusOK, s.deps.Voice.Status())
}

func (s *Server) voiceConfig(c echo.Context) error {
	var req session.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}
	restarted, err := s.deps.Voice.Reconfigure(c.Request().Context(), req)
	if err != nil {
		return c.JSON(statusFor(err), errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"restarted": restarted, "status": s.deps.Voice.Status()})
}

// statusFor maps session start failures to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, persona.ErrUnsupportedLanguage):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, live.ErrChannelOpen):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
