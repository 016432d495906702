// Package httpapi implements C7, the HTTP surface (spec.md §4.7, wire
// shapes in §6), grounded on the teacher's internal/api package
// (gorilla/mux router construction, small per-resource handler types,
// Logging/Recovery middleware). Unlike the teacher, which wraps every
// response in a {data,error,meta} envelope, responses here are the bare
// bodies spec.md §6 names literally — business failures go out as 200
// {"error":"..."} rather than a nested error object, per spec.md §7.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
)

// WriteJSON writes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

// WriteError writes the bare {"error":"..."} shape spec.md §6/§7 use for
// every error path, hook response included.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteErrorCode writes {"error":"...","error_code":"..."}, used for the
// Conflict kind (spec.md §7), e.g. pending_structured_request.
func WriteErrorCode(w http.ResponseWriter, status int, message, code string) {
	WriteJSON(w, status, map[string]string{"error": message, "error_code": code})
}

// decodeJSON reads and decodes the request body into v, treating an empty
// body as a no-op (several routes accept a body of {}).
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err.Error() != "EOF" {
		return err
	}
	return nil
}
