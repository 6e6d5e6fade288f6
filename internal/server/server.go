// Package server exposes the gateway over HTTP: bearer authentication, request
// validation and execution of GraphQL operations.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	auth "github.com/hanpama/brokergraph/internal/auth"
	dataloader "github.com/hanpama/brokergraph/internal/dataloader"
	dispatch "github.com/hanpama/brokergraph/internal/dispatch"
	eventbus "github.com/hanpama/brokergraph/internal/eventbus"
	events "github.com/hanpama/brokergraph/internal/events"
	executor "github.com/hanpama/brokergraph/internal/executor"
	registry "github.com/hanpama/brokergraph/internal/registry"
	reqid "github.com/hanpama/brokergraph/internal/reqid"
	validation "github.com/hanpama/brokergraph/internal/validation"
)

// Authenticator resolves the caller of a request from its Authorization header.
// A Forbidden error may come with the principal it was raised for.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*auth.Principal, error)
}

// Handler is an http.Handler that serves the GraphQL endpoint.
type Handler struct {
	reg    *registry.Registry
	exec   *executor.Executor
	authn  Authenticator
	logger *zap.Logger
	opt    Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// Loader options applied to the scope of every operation.
	Loader []dataloader.Option

	// RequiredScope is named in the challenge of a 403 response.
	RequiredScope string

	Logger *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithLoaderOptions(opts ...dataloader.Option) Option {
	return func(o *Options) { o.Loader = append(o.Loader, opts...) }
}
func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }
func WithRequiredScope(scope string) Option {
	return func(o *Options) { o.RequiredScope = scope }
}

// New creates the GraphQL handler. Requests are validated against reg and
// resolved by runtime; authn checks every request before anything else.
func New(reg *registry.Registry, runtime executor.Runtime, authn Authenticator, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second, CORS: DefaultCORS(), RequiredScope: auth.DefaultScope}
	for _, f := range opts {
		f(&op)
	}
	logger := op.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		reg:    reg,
		exec:   executor.NewExecutor(runtime, reg.Schema()),
		authn:  authn,
		logger: logger,
		opt:    op,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	id := middleware.GetReqID(ctx)
	if id == "" {
		id = r.Header.Get(reqid.Header)
	}
	ctx, id = reqid.NewContext(ctx, id)
	w.Header().Set(reqid.Header, id)
	logger := h.logger.With(zap.String("request_id", id))

	status, operations := http.StatusOK, 0
	start := time.Now()
	eventbus.Publish(ctx, events.RequestStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.RequestFinish{Request: r, Status: status, Operations: operations, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		writeJSON(w, status, requestError("method not allowed", codeBadRequest), h.opt.Pretty)
		return
	}

	principal, err := h.authn.Authenticate(ctx, r.Header.Get("Authorization"))
	if err != nil {
		code := auth.Code(err)
		eventbus.Publish(ctx, events.AuthResult{Outcome: code, Subject: subject(principal)})
		logger.Debug("request rejected", zap.String("code", code), zap.Error(err))
		status = writeAuthError(w, code, h.opt.RequiredScope, h.opt.Pretty)
		return
	}
	eventbus.Publish(ctx, events.AuthResult{Outcome: "ok", Subject: principal.Subject})
	ctx = auth.WithPrincipal(ctx, principal)
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		ctx = auth.WithToken(ctx, token)
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if errors.Is(berr, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, requestError(berr.Error(), codeBadRequest), h.opt.Pretty)
		return
	}

	if batch != nil {
		operations = len(batch)
		out := make([]any, len(batch))
		for i := range batch {
			out[i], _ = h.executeOne(ctx, logger, r.Method, principal, batch[i])
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	operations = 1
	res, code := h.executeOne(ctx, logger, r.Method, principal, req)
	status = code
	writeJSON(w, status, res, h.opt.Pretty)
}

// executeOne validates and runs one request. The status is what a single
// request would answer with; batches always answer 200.
func (h *Handler) executeOne(ctx context.Context, logger *zap.Logger, method string, p *auth.Principal, req GraphQLRequest) (any, int) {
	if req.Query == "" {
		return requestError("missing 'query'", codeBadRequest), http.StatusBadRequest
	}
	q, err := h.reg.Validate(req.Query, req.OperationName)
	if err != nil {
		var verr validation.ValidationError
		if errors.As(err, &verr) {
			logger.Debug("validation failed", zap.Int("violations", len(verr)))
			return violations(verr), http.StatusBadRequest
		}
		return requestError(err.Error(), codeValidationFailed), http.StatusBadRequest
	}
	opType := string(q.Operation.Operation)
	if method == http.MethodGet && opType != "query" {
		return requestError("only queries can be sent with GET", codeBadRequest), http.StatusMethodNotAllowed
	}

	ec := dispatch.NewExecutionContext(q, p, h.opt.Loader...)
	ctx = dispatch.WithExecutionContext(ctx, ec)

	start := time.Now()
	eventbus.Publish(ctx, events.OperationStart{Name: req.OperationName, Type: opType, Subject: subject(p)})
	result := h.exec.ExecuteRequest(ctx, q.Document, req.OperationName, req.Variables, nil)
	took := time.Since(start)
	rounds, batches := ec.Loaders.Stats()
	if eventbus.Observed[events.OperationFinish]() {
		eventbus.Publish(ctx, events.OperationFinish{
			Name:          req.OperationName,
			Type:          opType,
			Subject:       subject(p),
			ErrorCodes:    errorCodes(result.Errors),
			LoaderRounds:  rounds,
			LoaderBatches: batches,
			Duration:      took,
		})
	}
	logger.Debug("operation executed",
		zap.String("operation", req.OperationName),
		zap.String("type", opType),
		zap.Int("errors", len(result.Errors)),
		zap.Int("loader_rounds", rounds),
		zap.Int("loader_batches", batches),
		zap.Duration("took", took),
	)
	return toSpecResult(result), http.StatusOK
}

func errorCodes(errs []executor.GraphQLError) []string {
	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i], _ = e.Extensions["code"].(string)
		if codes[i] == "" {
			codes[i] = executor.CodeResolverError
		}
	}
	return codes
}

func subject(p *auth.Principal) string {
	if p == nil {
		return ""
	}
	return p.Subject
}
