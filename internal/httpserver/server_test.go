package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/chadiek/homesync-voice/internal/capture"
	"github.com/chadiek/homesync-voice/internal/command"
	"github.com/chadiek/homesync-voice/internal/dispatch"
	"github.com/chadiek/homesync-voice/internal/metrics"
	"github.com/chadiek/homesync-voice/internal/middleware"
	"github.com/chadiek/homesync-voice/internal/persona"
	"github.com/chadiek/homesync-voice/internal/session"
)

type fakeVoice struct {
	mu       sync.Mutex
	state    session.State
	startErr error
	reqs     []session.Request
	subs     []chan session.Update
}

func (f *fakeVoice) Start(_ context.Context, req session.Request) (session.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.startErr != nil {
		return session.StartFailed, f.startErr
	}
	if f.state != session.StateIdle {
		f.state = session.StateIdle
		return session.ToggledOff, nil
	}
	f.state = session.StateConnecting
	return session.Started, nil
}

func (f *fakeVoice) StartIfIdle(_ context.Context, req session.Request) (session.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.startErr != nil {
		return session.StartFailed, f.startErr
	}
	if f.state != session.StateIdle {
		return session.AlreadyRunning, nil
	}
	f.state = session.StateConnecting
	return session.Started, nil
}

func (f *fakeVoice) Stop() {
	f.mu.Lock()
	f.state = session.StateIdle
	f.mu.Unlock()
}

func (f *fakeVoice) Reconfigure(_ context.Context, req session.Request) (bool, error) {
	if req.Language == "xx" {
		return false, fmt.Errorf("%w: %q", persona.ErrUnsupportedLanguage, req.Language)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != session.StateIdle, nil
}

func (f *fakeVoice) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{State: f.state, Voice: session.VoiceIdle, Persona: "default", Language: "pt-BR"}
}

func (f *fakeVoice) Subscribe(buf int) (<-chan session.Update, func()) {
	ch := make(chan session.Update, buf)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeVoice) publish(u session.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- u
	}
}

type fakeCalls struct {
	err error
}

func (f *fakeCalls) Dispatch(context.Context, command.Command) (dispatch.Outcome, error) {
	return dispatch.Outcome{}, nil
}

func (f *fakeCalls) PlaceCallTo(_ context.Context, to, _ string) (dispatch.Outcome, error) {
	if f.err != nil {
		return dispatch.Outcome{}, f.err
	}
	return dispatch.Outcome{Mode: dispatch.ModeSimulated, To: to, SID: "SIM1"}, nil
}

func (f *fakeCalls) CallStatus(_ context.Context, sid string) (string, error) {
	if sid == "SIM1" {
		return "completed", nil
	}
	return "", dispatch.ErrNotConfigured
}

func newTestServer(voice *fakeVoice, calls *fakeCalls, opts Options) (*Server, *dispatch.Tracker) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	tracker := dispatch.NewTracker(time.Hour)
	srv := New(Deps{
		Voice:    voice,
		Calls:    calls,
		Tracker:  tracker,
		Gatherer: reg,
		Log:      zerolog.Nop(),
	}, opts)
	return srv, tracker
}

func do(srv *Server, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	for k, v := range hdr {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	return w
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(&fakeVoice{}, nil, Options{})
	w := do(srv, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", w.Code, w.Body.String())
	}
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(&fakeVoice{}, nil, Options{})
	w := do(srv, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "homesync_voice_sessions_open") {
		t.Fatalf("metrics missing from exposition")
	}
}

func TestServer_ControlAuth(t *testing.T) {
	srv, _ := newTestServer(&fakeVoice{}, nil, Options{ControlPassword: "secret"})
	if w := do(srv, http.MethodGet, "/api/voice", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := do(srv, http.MethodGet, "/api/voice", "", map[string]string{"X-Auth-Token": "secret"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := do(srv, http.MethodGet, "/api/voice?password=secret", "", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with query password, got %d", w.Code)
	}
}

func TestServer_VoiceStartToggles(t *testing.T) {
	voice := &fakeVoice{}
	srv, _ := newTestServer(voice, nil, Options{})

	w := do(srv, http.MethodPost, "/api/voice/start", `{"persona":"finances","language":"en-US","user":"Ana"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp startResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Result != "started" {
		t.Fatalf("expected started, got %q", resp.Result)
	}
	if voice.reqs[0] != (session.Request{Persona: "finances", Language: "en-US", User: "Ana"}) {
		t.Fatalf("request not forwarded: %+v", voice.reqs[0])
	}

	w = do(srv, http.MethodPost, "/api/voice/start", "", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Result != "stopped" {
		t.Fatalf("second start should toggle off, got %q", resp.Result)
	}
}

func TestServer_VoiceStartErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: no mic", capture.ErrDeviceUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv, _ := newTestServer(&fakeVoice{startErr: tc.err}, nil, Options{})
		if w := do(srv, http.MethodPost, "/api/voice/start", "", nil); w.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestServer_VoiceConfig(t *testing.T) {
	srv, _ := newTestServer(&fakeVoice{}, nil, Options{})
	if w := do(srv, http.MethodPut, "/api/voice/config", `{"language":"xx"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w := do(srv, http.MethodPut, "/api/voice/config", `{"persona":"tasks"}`, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"restarted":false`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestServer_TwilioCall(t *testing.T) {
	calls := &fakeCalls{}
	srv, _ := newTestServer(&fakeVoice{}, calls, Options{})

	if w := do(srv, http.MethodPost, "/api/twilio-call", `{"message":"oi"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without to, got %d", w.Code)
	}
	w := do(srv, http.MethodPost, "/api/twilio-call", `{"to":"+5511911110000","message":"oi"}`, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"sid":"SIM1"`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}

	calls.err = errors.New("21211 invalid number")
	w = do(srv, http.MethodPost, "/api/twilio-call", `{"to":"123"}`, nil)
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), `"mode":"beta"`) {
		t.Fatalf("unexpected failure response %d %s", w.Code, w.Body.String())
	}
}

func TestServer_TwilioStatus(t *testing.T) {
	srv, _ := newTestServer(&fakeVoice{}, &fakeCalls{}, Options{})
	if w := do(srv, http.MethodGet, "/api/twilio-status", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := do(srv, http.MethodGet, "/api/twilio-status?sid=SIM1", "", nil); w.Body.String() != "{\"status\":\"completed\"}\n" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
	if w := do(srv, http.MethodGet, "/api/twilio-status?sid=CAx", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServer_TwilioCallback(t *testing.T) {
	srv, tracker := newTestServer(&fakeVoice{}, nil, Options{TwilioAuthToken: "tok"})
	form := url.Values{"CallSid": {"CA7"}, "CallStatus": {"in-progress"}}
	sig := middleware.TwilioSignature("tok", "https://example.com/twilio/status", map[string]string{"CallSid": "CA7", "CallStatus": "in-progress"})

	r := httptest.NewRequest(http.MethodPost, "/twilio/status", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Twilio-Signature", sig)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	st, ok := tracker.Get("CA7")
	if !ok || st.Status != "in-progress" {
		t.Fatalf("tracker not updated: %+v", st)
	}
}

func TestServer_VoiceEventsWebSocket(t *testing.T) {
	voice := &fakeVoice{}
	srv, _ := newTestServer(voice, nil, Options{ControlPassword: "secret"})
	ts := httptest.NewServer(srv.Router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/voice/events?password=secret"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var status statusMessage
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatal(err)
	}
	if status.Type != "status" || status.State != session.StateIdle {
		t.Fatalf("unexpected first message %+v", status)
	}

	if err := conn.WriteJSON(controlMessage{Type: "toggle", Persona: "tasks"}); err != nil {
		t.Fatal(err)
	}
	var ack ackMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != "ack" || ack.Result != "started" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	voice.publish(session.Update{Kind: session.UpdateVoice, Voice: session.VoiceListening})
	var u session.Update
	if err := conn.ReadJSON(&u); err != nil {
		t.Fatal(err)
	}
	if u.Kind != session.UpdateVoice || u.Voice != session.VoiceListening {
		t.Fatalf("unexpected update %+v", u)
	}

	if err := conn.WriteJSON(controlMessage{Type: "dance"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != "error" {
		t.Fatalf("expected error ack, got %+v", ack)
	}
}

func TestServer_ControlStartDoesNotToggle(t *testing.T) {
	voice := &fakeVoice{}
	srv, _ := newTestServer(voice, nil, Options{})
	ctx := context.Background()

	ack := srv.control(ctx, controlMessage{Type: "start"})
	if ack.Type != "ack" || ack.Result != "started" {
		t.Fatalf("unexpected first ack %+v", ack)
	}
	ack = srv.control(ctx, controlMessage{Type: "START"})
	if ack.Type != "ack" || ack.Command != "start" || ack.Result != "already running" {
		t.Fatalf("unexpected second ack %+v", ack)
	}
	if st := voice.Status().State; st != session.StateConnecting {
		t.Fatalf("start on a live session must leave it running, state %s", st)
	}

	ack = srv.control(ctx, controlMessage{Type: "toggle"})
	if ack.Result != "stopped" {
		t.Fatalf("toggle should stop the live session, got %+v", ack)
	}
}

func TestServer_ControlStartError(t *testing.T) {
	voice := &fakeVoice{startErr: fmt.Errorf("%w: no microphone", capture.ErrDeviceUnavailable)}
	srv, _ := newTestServer(voice, nil, Options{})

	ack := srv.control(context.Background(), controlMessage{Type: "start"})
	if ack.Type != "error" || ack.Command != "start" || !strings.Contains(ack.Error, "no microphone") {
		t.Fatalf("expected error ack, got %+v", ack)
	}
}
