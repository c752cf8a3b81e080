package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/roomly/payme-gateway/internal/services"
	xhttp "github.com/roomly/payme-gateway/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const testSecretKey = "test-secret-key"

type MockPaymeService struct {
	mock.Mock
}

func (m *MockPaymeService) CheckPerformTransaction(ctx context.Context, p services.Params) (*services.CheckPerformResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CheckPerformResult), args.Error(1)
}

func (m *MockPaymeService) CreateTransaction(ctx context.Context, p services.Params) (*services.CreateResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CreateResult), args.Error(1)
}

func (m *MockPaymeService) PerformTransaction(ctx context.Context, p services.Params) (*services.PerformResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PerformResult), args.Error(1)
}

func (m *MockPaymeService) CancelTransaction(ctx context.Context, p services.Params) (*services.CancelResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CancelResult), args.Error(1)
}

func (m *MockPaymeService) CheckTransaction(ctx context.Context, p services.Params) (*services.CheckResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CheckResult), args.Error(1)
}

func (m *MockPaymeService) GetStatement(ctx context.Context, p services.Params) (*services.StatementResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatementResult), args.Error(1)
}

func setupWebhookContext(body []byte, authorized bool) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/api/payme/webhook")
	if body != nil {
		ctx.Request.SetBody(body)
	}
	if authorized {
		cred := base64.StdEncoding.EncodeToString([]byte("Paycom:" + testSecretKey))
		ctx.Request.Header.Set("Authorization", "Basic "+cred)
	}
	return ctx
}

func rpcBody(t *testing.T, id interface{}, method string, params map[string]interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"method": method,
		"params": params,
	})
	require.NoError(t, err)
	return b
}

type errorEnvelope struct {
	Error *struct {
		Code    int `json:"code"`
		Message struct {
			Uz string `json:"uz"`
			Ru string `json:"ru"`
			En string `json:"en"`
		} `json:"message"`
		Data string `json:"data"`
	} `json:"error"`
	ID json.RawMessage `json:"id"`
}

func decodeError(t *testing.T, ctx *xhttp.RequestCtx) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &env))
	require.NotNil(t, env.Error)
	return env
}

func TestPaymeHandler_Authorization(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		ctx := setupWebhookContext(rpcBody(t, 1, MethodCheckTransaction, nil), false)
		handler.HandleWebhook(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		env := decodeError(t, ctx)
		assert.Equal(t, int(services.CodeInvalidAuthorization), env.Error.Code)
		svc.AssertNotCalled(t, "CheckTransaction")
	})

	t.Run("wrong password", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		ctx := setupWebhookContext(rpcBody(t, 1, MethodCheckTransaction, nil), false)
		cred := base64.StdEncoding.EncodeToString([]byte("Paycom:wrong"))
		ctx.Request.Header.Set("Authorization", "Basic "+cred)
		handler.HandleWebhook(ctx)

		env := decodeError(t, ctx)
		assert.Equal(t, int(services.CodeInvalidAuthorization), env.Error.Code)
	})

	t.Run("malformed base64", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		ctx := setupWebhookContext(rpcBody(t, 1, MethodCheckTransaction, nil), false)
		ctx.Request.Header.Set("Authorization", "Basic !!!not-base64!!!")
		handler.HandleWebhook(ctx)

		env := decodeError(t, ctx)
		assert.Equal(t, int(services.CodeInvalidAuthorization), env.Error.Code)
	})

	t.Run("any login is accepted", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		svc.On("CheckPerformTransaction", mock.Anything, mock.Anything).
			Return(&services.CheckPerformResult{Allow: true}, nil)

		ctx := setupWebhookContext(rpcBody(t, 1, MethodCheckPerformTransaction, nil), false)
		cred := base64.StdEncoding.EncodeToString([]byte("whatever:" + testSecretKey))
		ctx.Request.Header.Set("Authorization", "Basic "+cred)
		handler.HandleWebhook(ctx)

		var env struct {
			Result *services.CheckPerformResult `json:"result"`
		}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &env))
		require.NotNil(t, env.Result)
		assert.True(t, env.Result.Allow)
	})
}

func TestPaymeHandler_Envelope(t *testing.T) {
	t.Run("parse error on malformed body", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		ctx := setupWebhookContext([]byte("{not json"), true)
		handler.HandleWebhook(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		env := decodeError(t, ctx)
		assert.Equal(t, int(services.CodeParseError), env.Error.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		ctx := setupWebhookContext(rpcBody(t, 7, "DoSomethingElse", nil), true)
		handler.HandleWebhook(ctx)

		env := decodeError(t, ctx)
		assert.Equal(t, int(services.CodeMethodNotFound), env.Error.Code)
		assert.Equal(t, "DoSomethingElse", env.Error.Data)
		assert.JSONEq(t, "7", string(env.ID))
	})

	t.Run("request id is echoed back verbatim", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		svc.On("CheckTransaction", mock.Anything, mock.Anything).
			Return(nil, services.ErrTransactionNotFoundError())

		// string ids must come back as strings
		ctx := setupWebhookContext(rpcBody(t, "req-42", MethodCheckTransaction, map[string]interface{}{"id": "T1"}), true)
		handler.HandleWebhook(ctx)

		env := decodeError(t, ctx)
		assert.Equal(t, int(services.CodeTransactionNotFound), env.Error.Code)
		assert.Equal(t, `"req-42"`, string(env.ID))
	})

	t.Run("trilingual error message", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		svc.On("CreateTransaction", mock.Anything, mock.Anything).
			Return(nil, services.ErrInvalidAmount())

		ctx := setupWebhookContext(rpcBody(t, 1, MethodCreateTransaction, nil), true)
		handler.HandleWebhook(ctx)

		env := decodeError(t, ctx)
		assert.Equal(t, int(services.CodeInvalidAmount), env.Error.Code)
		assert.NotEmpty(t, env.Error.Message.Uz)
		assert.NotEmpty(t, env.Error.Message.Ru)
		assert.NotEmpty(t, env.Error.Message.En)
	})

	t.Run("internal failures are masked", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		svc.On("PerformTransaction", mock.Anything, mock.Anything).
			Return(nil, errors.New("pq: connection refused"))

		ctx := setupWebhookContext(rpcBody(t, 1, MethodPerformTransaction, nil), true)
		handler.HandleWebhook(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		env := decodeError(t, ctx)
		assert.Equal(t, int(services.CodeInternalError), env.Error.Code)
		assert.NotContains(t, string(ctx.Response.Body()), "connection refused")
	})
}

func TestPaymeHandler_Dispatch(t *testing.T) {
	t.Run("params are passed through", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		svc.On("CreateTransaction", mock.Anything, mock.MatchedBy(func(p services.Params) bool {
			return p.ID == "T1" && p.Amount == 100000 && p.Account["order_id"] == "125"
		})).Return(&services.CreateResult{
			CreateTime:  1716200000000,
			Transaction: "T1",
			State:       1,
		}, nil)

		ctx := setupWebhookContext(rpcBody(t, 1, MethodCreateTransaction, map[string]interface{}{
			"id":      "T1",
			"time":    1716200000000,
			"amount":  100000,
			"account": map[string]interface{}{"order_id": "125"},
		}), true)
		handler.HandleWebhook(ctx)

		var env struct {
			Result *services.CreateResult `json:"result"`
			ID     json.RawMessage        `json:"id"`
		}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &env))
		require.NotNil(t, env.Result)
		assert.Equal(t, "T1", env.Result.Transaction)
		assert.Equal(t, 1, env.Result.State)
		assert.JSONEq(t, "1", string(env.ID))

		svc.AssertExpectations(t)
	})

	t.Run("statement range is forwarded", func(t *testing.T) {
		svc := new(MockPaymeService)
		handler := NewPaymeHandler(svc, testSecretKey)

		svc.On("GetStatement", mock.Anything, mock.MatchedBy(func(p services.Params) bool {
			return p.From == 1716100000000 && p.To == 1716200000000
		})).Return(&services.StatementResult{Transactions: []services.StatementEntry{}}, nil)

		ctx := setupWebhookContext(rpcBody(t, 1, MethodGetStatement, map[string]interface{}{
			"from": 1716100000000,
			"to":   1716200000000,
		}), true)
		handler.HandleWebhook(ctx)

		var env struct {
			Result *services.StatementResult `json:"result"`
		}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &env))
		require.NotNil(t, env.Result)
		assert.NotNil(t, env.Result.Transactions)

		svc.AssertExpectations(t)
	})
}
