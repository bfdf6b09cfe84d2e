package httpserver

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Response is the envelope of every non-RPC JSON answer the server gives.
type Response[T any] struct {
	Data    T       `json:"data,omitempty"`
	Errors  []Error `json:"errors,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Error is one field-level error.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// WriteJSON writes response with statusCode. Encoding failures are logged;
// the status line is already gone by then.
func WriteJSON[T any](w http.ResponseWriter, statusCode int, response Response[T]) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Int("status_code", statusCode).Msg("failed to encode JSON response")
	}
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, statusCode int, message string, errs ...Error) {
	WriteJSON(w, statusCode, Response[any]{Errors: errs, Message: message})
}

// WriteSuccess writes a data envelope.
func WriteSuccess[T any](w http.ResponseWriter, statusCode int, data T, message string) {
	WriteJSON(w, statusCode, Response[T]{Data: data, Message: message})
}
