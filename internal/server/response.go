package server

import (
	"encoding/json"
	"net/http"

	executor "github.com/hanpama/brokergraph/internal/executor"
	validation "github.com/hanpama/brokergraph/internal/validation"
)

const (
	codeBadRequest       = "BAD_REQUEST"
	codeValidationFailed = "GRAPHQL_VALIDATION_FAILED"
)

type specError struct {
	Message    string                `json:"message"`
	Locations  []validation.Location `json:"locations,omitempty"`
	Path       []any                 `json:"path,omitempty"`
	Extensions map[string]any        `json:"extensions,omitempty"`
}

type specResult struct {
	Data   any         `json:"data"`
	Errors []specError `json:"errors,omitempty"`
}

// errorsOnly is the body of a request that never reached execution; it has no
// data entry at all.
type errorsOnly struct {
	Errors []specError `json:"errors"`
}

func codeExt(code string) map[string]any { return map[string]any{"code": code} }

func requestError(message, code string) errorsOnly {
	return errorsOnly{Errors: []specError{{Message: message, Extensions: codeExt(code)}}}
}

func violations(verr validation.ValidationError) errorsOnly {
	out := errorsOnly{Errors: make([]specError, len(verr))}
	for i, v := range verr {
		out.Errors[i] = specError{
			Message:    v.Message,
			Locations:  v.Locations,
			Path:       v.Path,
			Extensions: codeExt(codeValidationFailed),
		}
	}
	return out
}

var authMessages = map[string]string{
	"UNAUTHENTICATED": "authentication required",
	"TOKEN_EXPIRED":   "token expired",
	"FORBIDDEN":       "insufficient scope",
}

// writeAuthError answers a rejected token and returns the status it used.
// scope is the one a FORBIDDEN challenge asks for.
func writeAuthError(w http.ResponseWriter, code, scope string, pretty bool) int {
	status := http.StatusUnauthorized
	switch code {
	case "FORBIDDEN":
		status = http.StatusForbidden
		challenge := `Bearer error="insufficient_scope"`
		if scope != "" {
			challenge += `, scope="` + scope + `"`
		}
		w.Header().Set("WWW-Authenticate", challenge)
	case "TOKEN_EXPIRED":
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="token expired"`)
	default:
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, requestError(authMessages[code], code), pretty)
	return status
}

func toSpecResult(res *executor.ExecutionResult) specResult {
	out := specResult{Data: res.Data}
	if len(res.Errors) == 0 {
		return out
	}
	out.Errors = make([]specError, len(res.Errors))
	for i, e := range res.Errors {
		se := specError{Message: e.Message, Extensions: e.Extensions}
		for _, l := range e.Locations {
			se.Locations = append(se.Locations, validation.Location{Line: l.Line, Column: l.Column})
		}
		if len(e.Path) > 0 {
			se.Path = make([]any, len(e.Path))
			for j, pe := range e.Path {
				se.Path[j] = pe
			}
		}
		out.Errors[i] = se
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}
