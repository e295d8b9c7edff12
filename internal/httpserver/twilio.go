package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/homesync-voice/internal/dispatch"
	"github.com/chadiek/homesync-voice/internal/middleware"
)

type callRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type callResponse struct {
	Mode dispatch.Mode `json:"mode"`
	SID  string        `json:"sid"`
}

func (s *Server) twilioCall(c echo.Context) error {
	var req callRequest
	if err := c.Bind(&req); err != nil || req.To == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "missing 'to'"})
	}
	out, err := s.deps.Calls.PlaceCallTo(c.Request().Context(), req.To, req.Message)
	if err != nil {
		s.log.Error().Err(err).Str("to", req.To).Msg("twilio call failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error(), Mode: "beta"})
	}
	return c.JSON(http.StatusOK, callResponse{Mode: out.Mode, SID: out.SID})
}

func (s *Server) twilioStatus(c echo.Context) error {
	sid := c.QueryParam("sid")
	if sid == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "missing sid"})
	}
	status, err := s.deps.Calls.CallStatus(c.Request().Context(), sid)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, dispatch.ErrNotConfigured) {
			code = http.StatusNotFound
		}
		return c.JSON(code, errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": status})
}

// twilioCallback records call progress posted by Twilio.
func (s *Server) twilioCallback(c echo.Context) error {
	params, ok := c.Get(middleware.TwilioParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	sid, status := params["CallSid"], params["CallStatus"]
	if sid == "" || status == "" {
		return c.String(http.StatusBadRequest, "missing CallSid or CallStatus")
	}
	st := s.deps.Tracker.Set(sid, "", status)
	s.log.Info().Str("sid", sid).Str("status", status).Str("contact", st.Contact).Msg("call status")
	return c.NoContent(http.StatusNoContent)
}
