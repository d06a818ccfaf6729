// Package eas wires every ActiveSync command handler into a single HTTP
// router, implementing the middleware chain named in spec.md §6 and §9:
// request ID -> structured log -> request timeout -> basic auth -> rate
// limit -> device touch -> provisioning gate -> command dispatch. Grounded on the teacher's setup/routing pattern
// of one gorilla/mux router per surface, with WrapHandlerInBasicAuth-style
// layering from internal/httputil generalized from Matrix auth to EAS Basic
// auth and the MS-ASPROV policy-key gate.
package eas

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/exchangecore/excore/eas/autodiscover"
	"github.com/exchangecore/excore/eas/foldersync"
	"github.com/exchangecore/excore/eas/options"
	"github.com/exchangecore/excore/eas/ping"
	"github.com/exchangecore/excore/eas/provision"
	"github.com/exchangecore/excore/eas/settings"
	"github.com/exchangecore/excore/eas/strategy"
	"github.com/exchangecore/excore/eas/sync"
	"github.com/exchangecore/excore/internal/auth"
	"github.com/exchangecore/excore/internal/changebus"
	"github.com/exchangecore/excore/internal/deviceapi"
	"github.com/exchangecore/excore/internal/httputil"
	"github.com/exchangecore/excore/internal/logging"
	"github.com/exchangecore/excore/internal/store"
	"github.com/exchangecore/excore/internal/wbxml"
)

// statusRetryWith is HTTP 449, the ActiveSync-specific status a client
// recognizes as "re-provision and retry" (spec.md §4.5 Gate, §6, §7); it
// has no net/http constant since it's not an IANA-registered code.
const statusRetryWith = 449

// Deps bundles every dependency the router needs to construct its command
// handlers.
type Deps struct {
	Store         store.Store
	Bus           *changebus.Bus
	Codec         *wbxml.Codec
	Auth          *auth.Authenticator
	Devices       *deviceapi.API
	RateLimiter   *httputil.RateLimiter
	Autodiscover  autodiscover.Config
	RequestTimeout time.Duration
}

// Server owns the constructed handlers and the mux.Router that dispatches
// to them.
type Server struct {
	deps       Deps
	router     *mux.Router
	sync       *sync.Handler
	provision  *provision.Handler
	foldersync *foldersync.Handler
	ping       *ping.Handler
	settings   *settings.Handler
}

// NewServer builds the full handler tree and routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:       deps,
		sync:       sync.NewHandler(deps.Store, sync.NewManager(deps.Store), deps.Codec),
		provision:  provision.NewHandler(deps.Store, deps.Codec),
		foldersync: foldersync.NewHandler(deps.Store, deps.Store, deps.Codec),
		ping:       ping.NewHandler(deps.Bus, deps.Codec),
		settings:   settings.NewHandler(deps.Store, deps.Codec),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter().SkipClean(true).UseEncodedPath()

	r.Handle("/Microsoft-Server-ActiveSync", s.chain(http.HandlerFunc(s.handleCommand))).
		Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/Autodiscover/Autodiscover.xml", http.HandlerFunc(s.handleAutodiscoverXML)).
		Methods(http.MethodPost)
	r.Handle("/autodiscover/autodiscover.json/v1.0/{email}", s.chain(http.HandlerFunc(s.handleAutodiscoverJSON))).
		Methods(http.MethodGet)

	return r
}

// chain applies the request-ID, structured-log and request-timeout layers
// shared by every authenticated endpoint; auth and the provisioning gate
// are applied inside handleCommand itself since Options/Ping/Provision need
// to bypass the gate but not the outer layers.
func (s *Server) chain(next http.Handler) http.Handler {
	return requestIDMiddleware(loggingMiddleware(s.commandTimeoutMiddleware(next)))
}

// commandTimeoutMiddleware binds RequestTimeout for every command except
// Ping: Ping's own heartbeat (up to ping.MaxHeartbeat) is the long-poll
// contract with the client, so it gets a deadline sized to that instead —
// otherwise RequestTimeout's default of 60s fires while Ping is still
// legitimately waiting, and ping.Handle's ctx.Err() check then misreads the
// outer cancellation as a client disconnect and drops the response.
func (s *Server) commandTimeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.deps.RequestTimeout
		if r.URL.Query().Get("Cmd") == "Ping" {
			d = ping.MaxHeartbeat + 30*time.Second
		}
		timeoutMiddleware(d, next).ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"request_id": requestIDFrom(r.Context()),
			"cmd":        r.URL.Query().Get("Cmd"),
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start).String(),
		}).Info("eas: request handled")
	})
}

func timeoutMiddleware(d time.Duration, next http.Handler) http.Handler {
	if d <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleCommand implements the POST /Microsoft-Server-ActiveSync dispatch:
// auth, rate limit, device touch, provisioning gate, then Cmd-based
// dispatch, per spec.md §6 and §4.5.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd := r.URL.Query().Get("Cmd")

	userEmail, err := s.deps.Auth.Authenticate(ctx, r)
	if err != nil {
		auth.RequireAuth(w)
		return
	}

	if r.Method == http.MethodOptions || cmd == "" || cmd == "Options" {
		options.Handle(w)
		return
	}

	deviceID := r.URL.Query().Get("DeviceId")
	deviceType := r.URL.Query().Get("DeviceType")

	if !s.deps.RateLimiter.Allow(r, userEmail, deviceID) {
		httputil.PlainError(http.StatusTooManyRequests, "rate limit exceeded").WriteTo(w)
		return
	}

	dev, err := s.deps.Devices.Touch(ctx, userEmail, deviceID, deviceType, r.UserAgent())
	if err != nil {
		log.WithError(err).Error("eas: touch device failed")
		httputil.PlainError(http.StatusInternalServerError, "internal error").WriteTo(w)
		return
	}

	if provision.Gate(cmd) && !provision.Satisfied(dev, r.Header.Get("X-Ms-Policykey")) {
		w.Header().Set("X-MS-ASProtocolVersions", options.ProtocolVersions)
		body, perr := s.provision.RequireProvisioning()
		if perr != nil {
			log.WithError(perr).Error("eas: build provisioning-required body failed")
			httputil.PlainError(http.StatusInternalServerError, "internal error").WriteTo(w)
			return
		}
		resp := &httputil.Response{
			Code:        statusRetryWith,
			ContentType: "application/vnd.ms-sync.wbxml",
			WBXML:       body,
		}
		resp.WriteTo(w)
		return
	}

	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.PlainError(http.StatusBadRequest, "cannot read body").WriteTo(w)
		return
	}
	if logging.Debug() {
		log.WithFields(log.Fields{"cmd": cmd, "wbxml": hex.EncodeToString(body)}).Debug("eas: request body")
	}

	var req *wbxml.Node
	if len(body) > 0 {
		req, err = wbxml.DecodeBytes(body, s.deps.Codec, len(body)+64*1024)
		if err != nil {
			log.WithError(err).WithField("cmd", cmd).Warn("eas: malformed wbxml request")
			httputil.PlainError(http.StatusBadRequest, "malformed request").WriteTo(w)
			return
		}
	}

	strat := strategy.Detect(r.UserAgent(), deviceType)

	var respBytes []byte
	var abandoned bool

	switch cmd {
	case "Sync":
		respBytes, err = s.sync.Handle(ctx, userEmail, deviceID, strat, req)
	case "FolderSync":
		clientKey := ""
		if req != nil {
			clientKey = req.ChildText("SyncKey")
		}
		respBytes, err = s.foldersync.Handle(ctx, userEmail, deviceID, clientKey)
	case "Provision":
		respBytes, err = s.provision.Handle(ctx, userEmail, deviceID, req)
	case "Ping":
		respBytes, abandoned, err = s.ping.Handle(ctx, userEmail, req)
	case "Settings":
		respBytes, err = s.settings.Handle(ctx, userEmail, req)
	default:
		httputil.PlainError(http.StatusNotImplemented, "command not implemented").WriteTo(w)
		return
	}

	if err != nil {
		log.WithError(err).WithField("cmd", cmd).Error("eas: command handler failed")
		httputil.PlainError(http.StatusInternalServerError, "internal error").WriteTo(w)
		return
	}
	if abandoned {
		// Client disconnected mid-Ping: write nothing, per spec.md §4.6.
		return
	}
	if logging.Debug() {
		log.WithFields(log.Fields{"cmd": cmd, "wbxml": hex.EncodeToString(respBytes)}).Debug("eas: response body")
	}

	resp := &httputil.Response{
		Code:        http.StatusOK,
		ContentType: "application/vnd.ms-sync.wbxml",
		WBXML:       respBytes,
	}
	resp.WriteTo(w)
}

func (s *Server) handleAutodiscoverXML(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.PlainError(http.StatusBadRequest, "cannot read body").WriteTo(w)
		return
	}
	email, schema, err := autodiscover.ParseRequest(body)
	if err != nil {
		httputil.PlainError(http.StatusBadRequest, "malformed autodiscover request").WriteTo(w)
		return
	}
	out := s.deps.Autodiscover.BuildXMLResponse(email, schema)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleAutodiscoverJSON(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.deps.Autodiscover.BuildJSONResponse(vars["email"])
	if err != nil {
		httputil.PlainError(http.StatusInternalServerError, "internal error").WriteTo(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
