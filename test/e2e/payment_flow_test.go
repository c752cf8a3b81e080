package e2e

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/roomly/payme-gateway/internal/handlers"
	"github.com/roomly/payme-gateway/internal/model"
	"github.com/roomly/payme-gateway/internal/queue"
	"github.com/roomly/payme-gateway/internal/repository"
	"github.com/roomly/payme-gateway/internal/services"
	"github.com/roomly/payme-gateway/pkg/pg"
	"github.com/roomly/payme-gateway/pkg/redis"
	"github.com/roomly/payme-gateway/test/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const e2eSecretKey = "e2e-secret-key"

type testDB = pg.DB

type TestEnvironment struct {
	DB              *pg.DB
	Redis           *miniredis.Miniredis
	RedisAdapter    redis.RedisAdapter
	Queue           *queue.Queue
	BookingRepo     *repository.BookingRepository
	TransactionRepo *repository.TransactionRepository
	PaymeService    *services.PaymeService
	PaymeHandler    *handlers.PaymeHandler

	now time.Time
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.BookingEntity{},
		&repository.TransactionEntity{},
	)
	require.NoError(t, err)

	pgDB := &testDB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := fmt.Sprintf("test-%d", time.Now().UnixNano())
	redisAdapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	queueConfig := queue.QueueConfig{
		Name:              "payments:paid:test",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}

	q, err := queue.NewQueue(redisAdapter, queueConfig)
	require.NoError(t, err)

	bookingRepo := repository.NewBookingRepository(pgDB)
	transactionRepo := repository.NewTransactionRepository(pgDB)

	env := &TestEnvironment{
		DB:              pgDB,
		Redis:           mr,
		RedisAdapter:    redisAdapter,
		Queue:           q,
		BookingRepo:     bookingRepo,
		TransactionRepo: transactionRepo,
		now:             time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC),
	}

	env.PaymeService = services.NewPaymeService(transactionRepo, bookingRepo, q).
		WithClock(func() time.Time { return env.now })
	env.PaymeHandler = handlers.NewPaymeHandler(env.PaymeService, e2eSecretKey)

	return env
}

func (env *TestEnvironment) Cleanup() {
	// Stop queue first (gracefully drain messages)
	if env.Queue != nil {
		_ = env.Queue.Stop(5 * time.Second)
	}
	// Give time for any in-flight operations to complete
	time.Sleep(100 * time.Millisecond)
	// Then close Redis
	if env.Redis != nil {
		env.Redis.Close()
	}
}

func (env *TestEnvironment) createBooking(t *testing.T, price int64) *model.Booking {
	t.Helper()
	booking := fixtures.NewSelectedBooking(7, price, env.now.AddDate(0, 0, 3))
	created, err := env.BookingRepo.Create(context.Background(), booking)
	require.NoError(t, err)
	return created
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int `json:"code"`
	} `json:"error"`
	ID json.RawMessage `json:"id"`
}

// call drives a request through the webhook handler exactly the way the
// provider would deliver it, Basic auth header included.
func (env *TestEnvironment) call(t *testing.T, method string, params map[string]interface{}) rpcEnvelope {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{
		"id":     1,
		"method": method,
		"params": params,
	})
	require.NoError(t, err)

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&fasthttp.Request{}, nil, nil)
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/api/payme/webhook")
	ctx.Request.SetBody(body)
	cred := base64.StdEncoding.EncodeToString([]byte("Paycom:" + e2eSecretKey))
	ctx.Request.Header.Set("Authorization", "Basic "+cred)

	env.PaymeHandler.HandleWebhook(ctx)
	require.Equal(t, 200, ctx.Response.StatusCode())

	var envl rpcEnvelope
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &envl))
	return envl
}

func (env *TestEnvironment) callOK(t *testing.T, method string, params map[string]interface{}) json.RawMessage {
	t.Helper()
	envl := env.call(t, method, params)
	require.Nil(t, envl.Error, "unexpected rpc error for %s", method)
	return envl.Result
}

func payParams(txID string, bookingID int64, amountTiyin int64) map[string]interface{} {
	return map[string]interface{}{
		"id":      txID,
		"amount":  amountTiyin,
		"account": map[string]interface{}{"order_id": bookingID},
	}
}

func TestE2E_FullPaymentLifecycle(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	booking := env.createBooking(t, 500000)
	amount := booking.Price * 100

	var check struct {
		Allow bool `json:"allow"`
	}
	result := env.callOK(t, handlers.MethodCheckPerformTransaction, payParams("E2E-T1", booking.ID, amount))
	require.NoError(t, json.Unmarshal(result, &check))
	assert.True(t, check.Allow)

	var created struct {
		CreateTime  int64  `json:"create_time"`
		Transaction string `json:"transaction"`
		State       int    `json:"state"`
	}
	result = env.callOK(t, handlers.MethodCreateTransaction, payParams("E2E-T1", booking.ID, amount))
	require.NoError(t, json.Unmarshal(result, &created))
	assert.Equal(t, "E2E-T1", created.Transaction)
	assert.Equal(t, 1, created.State)
	assert.Equal(t, env.now.UnixMilli(), created.CreateTime)

	env.now = env.now.Add(3 * time.Minute)

	var performed struct {
		Transaction string `json:"transaction"`
		PerformTime int64  `json:"perform_time"`
		State       int    `json:"state"`
	}
	result = env.callOK(t, handlers.MethodPerformTransaction, map[string]interface{}{"id": "E2E-T1"})
	require.NoError(t, json.Unmarshal(result, &performed))
	assert.Equal(t, 2, performed.State)
	assert.Equal(t, env.now.UnixMilli(), performed.PerformTime)

	// booking flipped to approved with the same timestamp on both marks
	updated, err := env.BookingRepo.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusApproved, updated.Status)
	require.NotNil(t, updated.PaidAt)
	require.NotNil(t, updated.ApprovedAt)
	assert.Equal(t, performed.PerformTime, updated.PaidAt.UnixMilli())
	assert.Equal(t, performed.PerformTime, updated.ApprovedAt.UnixMilli())
	assert.NotEmpty(t, updated.PaymentSummary)

	// the paid event landed on the stream
	stats, err := env.Queue.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(1))

	var checked struct {
		CreateTime  int64 `json:"create_time"`
		PerformTime int64 `json:"perform_time"`
		CancelTime  int64 `json:"cancel_time"`
		State       int   `json:"state"`
	}
	result = env.callOK(t, handlers.MethodCheckTransaction, map[string]interface{}{"id": "E2E-T1"})
	require.NoError(t, json.Unmarshal(result, &checked))
	assert.Equal(t, created.CreateTime, checked.CreateTime)
	assert.Equal(t, performed.PerformTime, checked.PerformTime)
	assert.Equal(t, int64(0), checked.CancelTime)
	assert.Equal(t, 2, checked.State)

	var statement struct {
		Transactions []struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
			State  int    `json:"state"`
		} `json:"transactions"`
	}
	result = env.callOK(t, handlers.MethodGetStatement, map[string]interface{}{
		"from": created.CreateTime - 1000,
		"to":   env.now.UnixMilli() + 1000,
	})
	require.NoError(t, json.Unmarshal(result, &statement))
	require.Len(t, statement.Transactions, 1)
	assert.Equal(t, "E2E-T1", statement.Transactions[0].ID)
	assert.Equal(t, amount, statement.Transactions[0].Amount)
	assert.Equal(t, 2, statement.Transactions[0].State)
}

func TestE2E_DuplicateDeliveries(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	booking := env.createBooking(t, 120000)
	amount := booking.Price * 100

	first := env.callOK(t, handlers.MethodCreateTransaction, payParams("E2E-DUP", booking.ID, amount))

	env.now = env.now.Add(time.Minute)

	replay := env.callOK(t, handlers.MethodCreateTransaction, payParams("E2E-DUP", booking.ID, amount))
	assert.JSONEq(t, string(first), string(replay))

	firstPerform := env.callOK(t, handlers.MethodPerformTransaction, map[string]interface{}{"id": "E2E-DUP"})

	env.now = env.now.Add(time.Minute)

	replayPerform := env.callOK(t, handlers.MethodPerformTransaction, map[string]interface{}{"id": "E2E-DUP"})
	assert.JSONEq(t, string(firstPerform), string(replayPerform))

	// replaying perform must not re-publish the paid event
	stats, err := env.Queue.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMessages)
}

func TestE2E_SecondTransactionBlockedByPending(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	booking := env.createBooking(t, 80000)
	amount := booking.Price * 100

	env.callOK(t, handlers.MethodCreateTransaction, payParams("E2E-A", booking.ID, amount))

	envl := env.call(t, handlers.MethodCreateTransaction, payParams("E2E-B", booking.ID, amount))
	require.NotNil(t, envl.Error)
	assert.Equal(t, -31050, envl.Error.Code)

	// the rejected transaction must leave no row behind
	envl = env.call(t, handlers.MethodCheckTransaction, map[string]interface{}{"id": "E2E-B"})
	require.NotNil(t, envl.Error)
	assert.Equal(t, -31003, envl.Error.Code)
}

func TestE2E_RefundAfterPayment(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	booking := env.createBooking(t, 250000)
	amount := booking.Price * 100

	env.callOK(t, handlers.MethodCreateTransaction, payParams("E2E-RF", booking.ID, amount))
	env.callOK(t, handlers.MethodPerformTransaction, map[string]interface{}{"id": "E2E-RF"})

	env.now = env.now.Add(time.Hour)

	var canceled struct {
		CancelTime int64 `json:"cancel_time"`
		State      int   `json:"state"`
	}
	result := env.callOK(t, handlers.MethodCancelTransaction, map[string]interface{}{
		"id":     "E2E-RF",
		"reason": 5,
	})
	require.NoError(t, json.Unmarshal(result, &canceled))
	assert.Equal(t, -2, canceled.State)
	assert.Equal(t, env.now.UnixMilli(), canceled.CancelTime)

	var checked struct {
		State  int  `json:"state"`
		Reason *int `json:"reason"`
	}
	result = env.callOK(t, handlers.MethodCheckTransaction, map[string]interface{}{"id": "E2E-RF"})
	require.NoError(t, json.Unmarshal(result, &checked))
	assert.Equal(t, -2, checked.State)
	require.NotNil(t, checked.Reason)
	assert.Equal(t, 5, *checked.Reason)
}

func TestE2E_PaidEventConsumption(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	booking := env.createBooking(t, 90000)
	amount := booking.Price * 100

	env.callOK(t, handlers.MethodCreateTransaction, payParams("E2E-EVT", booking.ID, amount))
	env.callOK(t, handlers.MethodPerformTransaction, map[string]interface{}{"id": "E2E-EVT"})

	received := make(chan model.BookingPaidEvent, 1)
	handler := func(ctx context.Context, qMsg *queue.Message) error {
		var event model.BookingPaidEvent
		if err := json.Unmarshal(qMsg.Data, &event); err != nil {
			return err
		}
		received <- event
		return nil
	}

	err := env.Queue.Consume(handler)
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "E2E-EVT", event.EventID)
		assert.Equal(t, booking.ID, event.BookingID)
		assert.Equal(t, booking.UserID, event.UserID)
		assert.Equal(t, booking.GuestPhone, event.GuestPhone)
		assert.Equal(t, booking.Price, event.Amount)
	case <-time.After(3 * time.Second):
		t.Fatal("paid event not consumed within timeout")
	}
}

func TestE2E_UnauthorizedRequest(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	booking := env.createBooking(t, 60000)

	body, err := json.Marshal(map[string]interface{}{
		"id":     1,
		"method": handlers.MethodCreateTransaction,
		"params": payParams("E2E-UNAUTH", booking.ID, booking.Price*100),
	})
	require.NoError(t, err)

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&fasthttp.Request{}, nil, nil)
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/api/payme/webhook")
	ctx.Request.SetBody(body)
	cred := base64.StdEncoding.EncodeToString([]byte("Paycom:wrong-key"))
	ctx.Request.Header.Set("Authorization", "Basic "+cred)

	env.PaymeHandler.HandleWebhook(ctx)
	require.Equal(t, 200, ctx.Response.StatusCode())

	var envl rpcEnvelope
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &envl))
	require.NotNil(t, envl.Error)
	assert.Equal(t, -32504, envl.Error.Code)

	// nothing was written
	envl = env.call(t, handlers.MethodCheckTransaction, map[string]interface{}{"id": "E2E-UNAUTH"})
	require.NotNil(t, envl.Error)
	assert.Equal(t, -31003, envl.Error.Code)
}
