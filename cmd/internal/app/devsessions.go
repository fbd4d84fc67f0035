package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"protoimsg/cmd/identity"
	"protoimsg/cmd/internal/auth/session"
)

const devSessionMaxBody = 4 << 10

// SessionIssuer mints sessions. *session.Service implements it.
type SessionIssuer interface {
	Issue(ctx context.Context, did, handle string) (session.Issued, error)
}

type devSessionRequest struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type devSessionResponse struct {
	SessionID   string    `json:"sessionId"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expiresAt"`
	AccessToken string    `json:"accessToken,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// devSessionHandler issues a session for any DID without proof of control. It exists
// for local testing against the websocket gateway.
func devSessionHandler(issuer SessionIssuer, log Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req devSessionRequest
		if err := decodeJSON(w, r, devSessionMaxBody, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
			return
		}

		issued, err := issuer.Issue(r.Context(), req.DID, req.Handle)
		if err != nil {
			if identity.IsInvalidInput(err) {
				writeError(w, http.StatusBadRequest, "invalid_identity", err.Error())
				return
			}
			log.Error("dev_sessions.issue.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "Internal error")
			return
		}

		log.Info("dev_sessions.issued", "did", req.DID, "session_id", issued.SessionID)
		writeJSON(w, http.StatusCreated, devSessionResponse{
			SessionID:   issued.SessionID,
			Token:       issued.Token,
			ExpiresAt:   issued.ExpiresAt,
			AccessToken: issued.AccessToken,
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
