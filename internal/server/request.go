package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/pkg/errors"
)

var errBodyTooLarge = errors.New("body too large")

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// parseRequest reads a single request or a batch. Numbers in variables are
// kept as json.Number so large decimals survive untouched.
func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, error) {
	if r.Method == http.MethodGet {
		values := r.URL.Query()
		q := values.Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, errors.New("missing 'query'")
		}
		vars := map[string]any{}
		if v := values.Get("variables"); v != "" {
			if err := decode([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, errors.New("invalid 'variables' JSON")
			}
		}
		return GraphQLRequest{Query: q, Variables: vars, OperationName: values.Get("operationName")}, nil, nil
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return GraphQLRequest{}, nil, errors.New("unsupported Content-Type")
		}
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, errors.New("failed to read body")
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, errBodyTooLarge
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := decode(body, &arr); err != nil {
			return GraphQLRequest{}, nil, errors.New("invalid JSON")
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, errors.New("empty batch")
		}
		return GraphQLRequest{}, arr, nil
	}
	var req GraphQLRequest
	if err := decode(body, &req); err != nil {
		return GraphQLRequest{}, nil, errors.New("invalid JSON")
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, errors.New("missing 'query'")
	}
	return req, nil, nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
