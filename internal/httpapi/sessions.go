package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lacikas/backend/internal/domain"
)

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "sessionID")
}

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionStartRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sess, err := a.service.StartSession(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": sess})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.service.GetSession(r.Context(), sessionID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (a *API) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.service.CancelSession(r.Context(), sessionID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (a *API) handleSessionMode(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionModeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sess, err := a.service.SetMode(r.Context(), sessionID(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

// handleSessionPress answers 200 even when the press was a no-op; clients
// read "applied".
func (a *API) handleSessionPress(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionPressRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.Press(r.Context(), sessionID(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionCounted(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionCountedRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sess, err := a.service.SetCounted(r.Context(), sessionID(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (a *API) handleSessionAmount(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionAmountRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.EnterAmount(r.Context(), sessionID(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionTarget(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionTargetRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sess, err := a.service.SetTarget(r.Context(), sessionID(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (a *API) handleSessionSuggestions(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.Suggestions(r.Context(), sessionID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionAccept(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionAcceptRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sess, err := a.service.AcceptSuggestion(r.Context(), sessionID(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (a *API) handleSessionConfirm(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ConfirmSession(r.Context(), sessionID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
