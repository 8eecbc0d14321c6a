package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	slogctx "github.com/veqryn/slog-context"

	"github.com/hypercerts-org/sessiond/internal/config"
	"github.com/hypercerts-org/sessiond/internal/serviceerr"
	"github.com/hypercerts-org/sessiond/internal/session"
)

// apiHandler serves the browser-facing session endpoints. Cookies are read
// and written here only; everything below this layer works with plain
// identifiers.
type apiHandler struct {
	cfg     *config.Config
	manager *session.Manager
}

func newMux(cfg *config.Config, manager *session.Manager) *http.ServeMux {
	h := &apiHandler{cfg: cfg, manager: manager}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", withTelemetry("login", h.login))
	mux.HandleFunc("GET /api/auth/callback", withTelemetry("callback", h.callback))
	mux.HandleFunc("POST /api/auth/logout", withTelemetry("logout", h.logout))
	mux.HandleFunc("GET /api/auth/session", withTelemetry("session-info", h.sessionInfo))
	mux.HandleFunc("POST /api/profile/switch", withTelemetry("profile-switch", h.switchProfile))
	mux.HandleFunc("GET /client-metadata.json", withTelemetry("client-metadata", h.clientMetadata))
	mux.HandleFunc("GET /ping", withTelemetry("ping", pingHandlerFunc()))

	return mux
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// subjectFromCookie extracts the signed-in DID, if any.
func (h *apiHandler) subjectFromCookie(r *http.Request) string {
	c, err := r.Cookie(h.cfg.SessionCookie.Name)
	if err != nil {
		return ""
	}

	return c.Value
}

func (h *apiHandler) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}

	hint := r.PostForm.Get("handle")
	returnTo := r.PostForm.Get("return_to")

	authURL, err := h.manager.Authorize(ctx, hint, returnTo)
	if err != nil {
		if errors.Is(err, serviceerr.ErrInvalidHandle) {
			writeError(w, http.StatusBadRequest, "handle could not be resolved")
			return
		}

		slogctx.Error(ctx, "Failed to start an authorization attempt", "error", err)
		writeError(w, http.StatusInternalServerError, "could not start sign-in")

		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *apiHandler) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, returnTo, err := h.manager.Callback(ctx, r.URL.Query())
	if err != nil {
		// the reason is logged; the browser gets nothing to enumerate on
		slogctx.Warn(ctx, "Authentication attempt failed", "error", err)
		writeError(w, http.StatusInternalServerError, "authentication failed")

		return
	}

	http.SetCookie(w, h.manager.MakeSessionCookie(ctx, sess.DID))
	http.SetCookie(w, h.manager.MakeProfileCookie(sess.DID))

	http.Redirect(w, r, session.ValidateReturnTo(returnTo), http.StatusFound)
}

func (h *apiHandler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if did := h.subjectFromCookie(r); did != "" {
		if err := h.manager.RevokeSession(ctx, did); err != nil {
			// cookies are cleared regardless
			slogctx.Error(ctx, "Failed to revoke the session", "did", did, "error", err)
		}
	}

	http.SetCookie(w, h.manager.ClearSessionCookie())
	http.SetCookie(w, h.manager.ClearProfileCookie())

	http.Redirect(w, r, "/", http.StatusFound)
}

type sessionInfoResponse struct {
	DID       string    `json:"did"`
	Handle    string    `json:"handle,omitempty"`
	PDSURL    string    `json:"pds_url,omitempty"`
	ActiveDID string    `json:"active_did,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *apiHandler) sessionInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	did := h.subjectFromCookie(r)
	if did == "" {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	sess, err := h.manager.RestoreSession(ctx, did)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			// the pointer cookie outlived the session
			http.SetCookie(w, h.manager.ClearSessionCookie())
			writeError(w, http.StatusUnauthorized, "not signed in")

			return
		}

		slogctx.Error(ctx, "Failed to restore the session", "did", did, "error", err)
		writeError(w, http.StatusInternalServerError, "could not restore session")

		return
	}

	activeDID := sess.DID
	if c, err := r.Cookie(h.cfg.ProfileCookie.Name); err == nil && c.Value != "" {
		activeDID = c.Value
	}

	// token material never leaves the server
	writeJSON(w, http.StatusOK, sessionInfoResponse{
		DID:       sess.DID,
		Handle:    sess.Handle,
		PDSURL:    sess.PDSURL,
		ActiveDID: activeDID,
		CreatedAt: sess.CreatedAt,
	})
}

func (h *apiHandler) switchProfile(w http.ResponseWriter, r *http.Request) {
	if h.subjectFromCookie(r) == "" {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}

	did := r.PostForm.Get("did")
	if did == "" {
		writeError(w, http.StatusBadRequest, "did is required")
		return
	}

	if _, err := syntax.ParseDID(did); err != nil {
		writeError(w, http.StatusBadRequest, "malformed did")
		return
	}

	http.SetCookie(w, h.manager.MakeProfileCookie(did))
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) clientMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.ClientMetadata())
}

func pingHandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"result": "pong"})
	}
}
