package server

import (
	"net/http"
	"slices"
	"strings"
)

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// DefaultCORS allows the local frontend dev server.
func DefaultCORS() CORSOptions {
	return CORSOptions{
		AllowedOrigins: []string{"http://localhost:4200"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	wildcard := slices.Contains(opts.AllowedOrigins, "*")
	if !wildcard && !slices.Contains(opts.AllowedOrigins, origin) {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		methods := opts.AllowedMethods
		if len(methods) == 0 {
			methods = []string{"GET", "POST", "OPTIONS"}
		}
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ","))
		if len(opts.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(opts.AllowedHeaders, ","))
		} else if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
	}
}
