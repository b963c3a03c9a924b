package httphandler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/b24bridge/internal/application"
	"github.com/ericfisherdev/b24bridge/internal/domain/model"
	"github.com/ericfisherdev/b24bridge/internal/domain/port/driven"
	"github.com/ericfisherdev/b24bridge/internal/obs"
)

// maxBodyBytes bounds request bodies; batch uploads may carry base64 files.
const maxBodyBytes = 16 << 20

// Handler is the HTTP driving adapter for Bitrix24 lifecycle callbacks and
// the admin call API.
type Handler struct {
	portals *application.PortalService
	install *application.InstallService
	client  *application.Client
	apiKey  string
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	portals *application.PortalService,
	install *application.InstallService,
	client *application.Client,
	apiKey string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		portals: portals,
		install: install,
		client:  client,
		apiKey:  apiKey,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with instrumentation, recovery, logging and request id middleware.
// metrics may be nil to leave /metrics unregistered.
func NewServeMux(h *Handler, metrics http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /bitrix/install", h.Install)
	mux.HandleFunc("POST /bitrix/events", h.Event)
	mux.HandleFunc("POST /api/v1/portals/{member}/call", requireAPIKey(h.apiKey, h.Call))
	mux.HandleFunc("POST /api/v1/portals/{member}/batch", requireAPIKey(h.apiKey, h.Batch))
	mux.HandleFunc("POST /api/v1/portals/{member}/list", requireAPIKey(h.apiKey, h.List))
	mux.HandleFunc("GET /api/v1/health", h.Health)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	// Instrument must see the request the mux annotates with its pattern.
	wrapped := obs.Instrument(mux)
	// Recovery innermost so panics are caught before logging.
	wrapped = recoveryMiddleware(logger, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Install handles the application install callback. Bitrix24 posts the
// portal's first token pair as form fields; a JSON body with the same fields
// is accepted too. APP_SID on that page is a session id; the application
// token only arrives with event callbacks.
func (h *Handler) Install(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev := application.InstallEvent{
		MemberID:     fields.get("member_id", "auth[member_id]"),
		Domain:       fields.get("DOMAIN", "domain", "auth[domain]"),
		AppToken:     fields.get("application_token", "auth[application_token]"),
		AccessToken:  fields.get("AUTH_ID", "access_token", "auth[access_token]"),
		RefreshToken: fields.get("REFRESH_ID", "refresh_token", "auth[refresh_token]"),
	}
	ev.ExpiresIn, err = parseSeconds(fields.get("AUTH_EXPIRES", "expires_in", "auth[expires_in]"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token lifetime")
		return
	}

	h.handleInstall(w, r, ev)
}

// Event handles Bitrix24 event callbacks. ONAPPINSTALL and ONAPPUNINSTALL
// drive the portal lifecycle; every other event is acknowledged and ignored.
func (h *Handler) Event(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch event := strings.ToUpper(fields.get("event")); event {
	case "ONAPPINSTALL":
		ev := application.InstallEvent{
			MemberID:     fields.get("auth[member_id]"),
			Domain:       fields.get("auth[domain]"),
			AppToken:     fields.get("auth[application_token]"),
			AccessToken:  fields.get("auth[access_token]"),
			RefreshToken: fields.get("auth[refresh_token]"),
		}
		ev.ExpiresIn, err = parseSeconds(fields.get("auth[expires_in]"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid token lifetime")
			return
		}
		h.handleInstall(w, r, ev)

	case "ONAPPUNINSTALL":
		token := fields.get("auth[application_token]")
		if err := h.install.Uninstall(r.Context(), token); err != nil {
			if errors.Is(err, application.ErrUnknownApplication) {
				writeError(w, http.StatusNotFound, "unknown application token")
				return
			}
			h.logger.Error("uninstall failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, InstallResponse{Status: "uninstalled"})

	default:
		h.logger.Debug("event ignored", "event", event)
		writeJSON(w, http.StatusOK, InstallResponse{Status: "ignored"})
	}
}

func (h *Handler) handleInstall(w http.ResponseWriter, r *http.Request, ev application.InstallEvent) {
	p, err := h.install.Install(r.Context(), ev)
	if err != nil {
		if errors.Is(err, driven.ErrMemberIDRequired) || errors.Is(err, application.ErrDomainRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("install failed", "member_id", ev.MemberID, "domain", ev.Domain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, InstallResponse{
		Status:   "installed",
		MemberID: p.MemberID,
		Domain:   p.Domain,
	})
}

// Call executes a single REST method for the portal named in the path.
func (h *Handler) Call(w http.ResponseWriter, r *http.Request) {
	p, ok := h.activePortal(w, r)
	if !ok {
		return
	}

	var req CallRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.client.Call(r.Context(), p, model.APICall{Method: req.Method, Data: req.Params})
	if err != nil {
		h.writeClientError(w, p, err)
		return
	}

	writeJSON(w, http.StatusOK, toCallResponse(res))
}

// Batch executes a batch of REST methods for the portal named in the path.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	p, ok := h.activePortal(w, r)
	if !ok {
		return
	}

	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	calls := make([]model.APICall, 0, len(req.Calls))
	for _, c := range req.Calls {
		calls = append(calls, model.APICall{ID: c.ID, Method: c.Method, Data: c.Params})
	}

	res, err := h.client.CallBatch(r.Context(), p, calls)
	if err != nil {
		h.writeClientError(w, p, err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchResponse(res))
}

// List walks every page of a list method for the portal named in the path.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := h.activePortal(w, r)
	if !ok {
		return
	}

	var req CallRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.client.GetList(r.Context(), p, model.APICall{Method: req.Method, Data: req.Params})
	if err != nil {
		h.writeClientError(w, p, err)
		return
	}

	writeJSON(w, http.StatusOK, toListResponse(res))
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// activePortal resolves the {member} path value and writes an error response
// unless the portal is installed.
func (h *Handler) activePortal(w http.ResponseWriter, r *http.Request) (model.Portal, bool) {
	member := r.PathValue("member")

	p, err := h.portals.ResolveByMember(r.Context(), member)
	if err != nil {
		if errors.Is(err, application.ErrPortalKeyRequired) {
			writeError(w, http.StatusBadRequest, "member id is required")
			return model.Portal{}, false
		}
		h.logger.Error("failed to resolve portal", "member_id", member, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return model.Portal{}, false
	}

	if !p.Active {
		writeError(w, http.StatusConflict, "portal is not installed")
		return model.Portal{}, false
	}

	return p, true
}

// writeClientError maps Client errors to status codes: misuse is the caller's
// fault, everything else is a failed upstream exchange.
func (h *Handler) writeClientError(w http.ResponseWriter, p model.Portal, err error) {
	switch {
	case errors.Is(err, application.ErrEmptyMethod),
		errors.Is(err, application.ErrNotListMethod),
		errors.Is(err, application.ErrInvalidFilter),
		errors.Is(err, application.ErrDuplicateCallID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("bitrix request failed",
			"member_id", p.MemberID,
			"domain", p.Domain,
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "bitrix24 request failed")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

// fields is a flat view over form or JSON request parameters.
type fields map[string]string

func (f fields) get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(f[k]); v != "" {
			return v
		}
	}
	return ""
}

// readFields collects query, form and JSON body parameters. Nested JSON
// objects are flattened to the form-style auth[member_id] keys.
func readFields(w http.ResponseWriter, r *http.Request) (fields, error) {
	out := fields{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
		return out, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	flatten(out, "", doc)
	return out, nil
}

func flatten(out fields, prefix string, doc map[string]any) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "[" + k + "]"
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(out, key, val)
		case string:
			out[key] = val
		case json.Number:
			out[key] = val.String()
		case bool:
			out[key] = strconv.FormatBool(val)
		}
	}
}

func parseSeconds(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
