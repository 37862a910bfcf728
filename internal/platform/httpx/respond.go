// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ProblemDetail represents RFC7807 problem details. Extensions are flattened
// into the top-level object when encoded.
type ProblemDetail struct {
	Type       string         `json:"type,omitempty"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Code       string         `json:"code,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Extensions map[string]any `json:"-"`
}

// MarshalJSON merges the extension members next to the standard ones.
func (p ProblemDetail) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extensions)+5)
	for k, v := range p.Extensions {
		out[k] = v
	}
	if p.Type != "" {
		out["type"] = p.Type
	}
	out["title"] = p.Title
	out["status"] = p.Status
	if p.Code != "" {
		out["code"] = p.Code
	}
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	return json.Marshal(out)
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	ProblemWith(w, status, title, "", detail, nil)
}

// ProblemWith sends a problem response carrying a machine code and extension members.
func ProblemWith(w http.ResponseWriter, status int, title, code, detail string, fields map[string]any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:      title,
		Status:     status,
		Code:       code,
		Detail:     detail,
		Extensions: fields,
	})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: empty body", ErrValidation)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
