package httpx

import (
	"encoding/json"
	"log"
	"net/http"

	"commonground/backend/internal/apperr"
)

type envelope struct {
	OK    bool      `json:"ok"`
	Data  any       `json:"data,omitempty"`
	Error *errBody  `json:"error,omitempty"`
}

type errBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// RespondJSON writes a success envelope with the given status and payload.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{OK: true, Data: data}); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

// RespondError writes an error envelope. The stable code and safe message come
// from apperr; unclassified errors collapse to INTERNAL with a generic message
// so store details never reach clients.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	message := "internal error"
	if code != apperr.CodeInternal {
		message = trimCodePrefix(err.Error(), string(code))
	} else {
		log.Printf("server: %s %s: %v", r.Method, r.URL.Path, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(code))
	if encErr := json.NewEncoder(w).Encode(envelope{OK: false, Error: &errBody{Code: code, Message: message}}); encErr != nil {
		log.Printf("server: failed to encode error response: %v", encErr)
	}
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields and
// oversized bodies.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.New(apperr.CodeValidation, "invalid JSON body")
	}
	return nil
}

func trimCodePrefix(msg, code string) string {
	prefix := code + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
