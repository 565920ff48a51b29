package api

import (
	"encoding/json"
	"net/http"
)

// messageBody is the {success, message} reply used by most endpoints.
type messageBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// errorBody is the {error} reply of the server plumbing.
type errorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a {success:false, message} reply.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, messageBody{Success: false, Message: message})
}

// WriteMessage writes a {success:true, message} reply.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, messageBody{Success: true, Message: message})
}

// writeRaw writes an already encoded JSON document.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}
