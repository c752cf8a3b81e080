package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/roomly/payme-gateway/internal/services"
	xhttp "github.com/roomly/payme-gateway/pkg/http"
	"github.com/roomly/payme-gateway/pkg/logger"
	"github.com/roomly/payme-gateway/pkg/prom"
)

const (
	MethodCheckPerformTransaction = "CheckPerformTransaction"
	MethodCreateTransaction       = "CreateTransaction"
	MethodPerformTransaction      = "PerformTransaction"
	MethodCancelTransaction       = "CancelTransaction"
	MethodCheckTransaction        = "CheckTransaction"
	MethodGetStatement            = "GetStatement"
)

type PaymeService interface {
	CheckPerformTransaction(ctx context.Context, p services.Params) (*services.CheckPerformResult, error)
	CreateTransaction(ctx context.Context, p services.Params) (*services.CreateResult, error)
	PerformTransaction(ctx context.Context, p services.Params) (*services.PerformResult, error)
	CancelTransaction(ctx context.Context, p services.Params) (*services.CancelResult, error)
	CheckTransaction(ctx context.Context, p services.Params) (*services.CheckResult, error)
	GetStatement(ctx context.Context, p services.Params) (*services.StatementResult, error)
}

// PaymeHandler is the single JSON-RPC endpoint Payme calls. Every
// response is HTTP 200, success and failure both live in the body.
type PaymeHandler struct {
	svc       PaymeService
	secretKey string
}

func RegisterPaymeRoutes(e *router.Group, h *PaymeHandler) {
	e.POST("/payme/webhook", h.HandleWebhook)
}

func NewPaymeHandler(paymeService PaymeService, secretKey string) *PaymeHandler {
	return &PaymeHandler{
		svc:       paymeService,
		secretKey: secretKey,
	}
}

// rpcRequest is the JSON-RPC 2.0 request envelope. The id is kept raw
// and echoed back verbatim, the provider sends both numbers and strings.
type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params services.Params `json:"params"`
}

type rpcSuccess struct {
	Result interface{}     `json:"result"`
	ID     json.RawMessage `json:"id,omitempty"`
}

type rpcFailure struct {
	Error *services.TransactionError `json:"error"`
	ID    json.RawMessage            `json:"id,omitempty"`
}

func (h *PaymeHandler) HandleWebhook(ctx *xhttp.RequestCtx) {
	started := time.Now()

	if !h.authorized(ctx) {
		writeRPCError(ctx, nil, services.ErrInvalidAuthorizationError())
		prom.IncPaymeRequest("unknown", "unauthorized")
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeRPCError(ctx, nil, services.ErrParseErrorError())
		prom.IncPaymeRequest("unknown", "parse_error")
		return
	}

	result, err := h.dispatch(ctx, req.Method, req.Params)
	if err != nil {
		terr, ok := err.(*services.TransactionError)
		if !ok {
			logger.Error("payme webhook failed", "method", req.Method, "error", err)
			terr = services.ErrInternalError()
		}
		writeRPCError(ctx, req.ID, terr)
		prom.IncPaymeRequest(req.Method, "error")
		prom.ObservePaymeDuration(req.Method, time.Since(started).Seconds())
		return
	}

	writeRPCResult(ctx, req.ID, result)
	prom.IncPaymeRequest(req.Method, "ok")
	prom.ObservePaymeDuration(req.Method, time.Since(started).Seconds())
}

func (h *PaymeHandler) dispatch(ctx *xhttp.RequestCtx, method string, p services.Params) (interface{}, error) {
	switch method {
	case MethodCheckPerformTransaction:
		return h.svc.CheckPerformTransaction(ctx, p)
	case MethodCreateTransaction:
		return h.svc.CreateTransaction(ctx, p)
	case MethodPerformTransaction:
		return h.svc.PerformTransaction(ctx, p)
	case MethodCancelTransaction:
		return h.svc.CancelTransaction(ctx, p)
	case MethodCheckTransaction:
		return h.svc.CheckTransaction(ctx, p)
	case MethodGetStatement:
		return h.svc.GetStatement(ctx, p)
	default:
		return nil, services.ErrMethodNotFoundError(method)
	}
}

// authorized validates the Basic credential Payme signs requests with.
// The login part is arbitrary, only the password matters.
func (h *PaymeHandler) authorized(ctx *xhttp.RequestCtx) bool {
	if h.secretKey == "" {
		return false
	}

	auth := string(ctx.Request.Header.Peek("Authorization"))
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	_, password, found := strings.Cut(string(decoded), ":")
	return found && password == h.secretKey
}

// writeRPCResult and writeRPCError both answer HTTP 200: the provider
// reads outcomes from the JSON-RPC envelope, not the status line.
func writeRPCResult(ctx *xhttp.RequestCtx, id json.RawMessage, result interface{}) {
	writeJSON(ctx, 200, rpcSuccess{Result: result, ID: id})
}

func writeRPCError(ctx *xhttp.RequestCtx, id json.RawMessage, terr *services.TransactionError) {
	writeJSON(ctx, 200, rpcFailure{Error: terr, ID: id})
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}
