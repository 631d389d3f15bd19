// Package response writes the JSON envelope every handler answers with.
package response

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON envelope.
type Response struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WriteJSON writes status and the envelope built from message, data and err.
func WriteJSON(w http.ResponseWriter, status int, message string, data any, err error) {
	var errorMsg string
	if err != nil {
		errorMsg = err.Error()
	}

	bytes, err := json.Marshal(Response{
		Message: message,
		Data:    data,
		Error:   errorMsg,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bytes)
}

func OK(w http.ResponseWriter, message string, res any) {
	WriteJSON(w, http.StatusOK, message, res, nil)
}

// NoContent writes 204 without a body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Accepted(w http.ResponseWriter, message string, res any) {
	WriteJSON(w, http.StatusAccepted, message, res, nil)
}

func BadRequest(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusBadRequest, message, nil, err)
}

func NotFound(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusNotFound, message, nil, err)
}

// Conflict carries the conflicting resource in data.
func Conflict(w http.ResponseWriter, message string, res any, err error) {
	WriteJSON(w, http.StatusConflict, message, res, err)
}

func UnprocessableEntity(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusUnprocessableEntity, message, nil, err)
}

func InternalServerError(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusInternalServerError, message, nil, err)
}

func ServiceUnavailable(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusServiceUnavailable, message, nil, err)
}
