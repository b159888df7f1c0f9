package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/aloks98/deskauth"
)

// WriteJSON writes payload merged into a {"success": true} envelope.
func WriteJSON(w http.ResponseWriter, status int, payload map[string]any) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["success"] = true
	write(w, status, body)
}

// WriteError writes err as a {"success": false} envelope with the status and
// code that match its kind.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorStatus(w, deskauth.HTTPStatus(err), err)
}

// WriteErrorStatus is like WriteError but overrides the status.
func WriteErrorStatus(w http.ResponseWriter, status int, err error) {
	write(w, status, map[string]any{
		"success": false,
		"error":   deskauth.Code(err),
		"message": deskauth.PublicMessage(err),
	})
}

// DefaultErrorHandler writes guard failures with WriteError.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	WriteError(w, err)
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
