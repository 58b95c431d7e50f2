package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/punchamoorthee/merchantops/internal/service"
	"github.com/punchamoorthee/merchantops/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int             `json:"code"`
		Message json.RawMessage `json:"message"`
		Data    string          `json:"data"`
	} `json:"error"`
}

type testServer struct {
	mem    *store.Memory
	router http.Handler
	now    time.Time
}

func newTestServer(t *testing.T, creds Credentials) *testServer {
	t.Helper()
	mem := store.NewMemory()
	for i := 0; i < 7; i++ {
		_, err := mem.CreateAccount(context.Background(), 0)
		require.NoError(t, err)
	}
	ts := &testServer{mem: mem, now: time.UnixMilli(1_700_000_000_000)}
	svc := service.NewMerchantService(service.Config{
		Accounts:           []string{"id"},
		UserKey:            "id",
		MinSum:             1000,
		MaxSum:             100000,
		Timeout:            10 * time.Minute,
		CanCancelCompleted: true,
	}, mem, nil, service.WithClock(func() time.Time { return ts.now }))
	ts.router = NewHandler(svc, mem, creds, nil).Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) rpc(t *testing.T, body string) rpcReply {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/payme", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reply rpcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "2.0", reply.JSONRPC)
	return reply
}

func TestRPCLifecycle(t *testing.T) {
	ts := newTestServer(t, Credentials{})

	reply := ts.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"CreateTransaction",
		"params":{"id":"T1","time":1000,"amount":5000,"account":{"id":7}}}`)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `1`, string(reply.ID))
	assert.JSONEq(t, `{"create_time":1700000000000,"transaction":"1","state":1}`, string(reply.Result))

	reply = ts.rpc(t, `{"jsonrpc":"2.0","id":2,"method":"PerformTransaction","params":{"id":"T1"}}`)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"transaction":"1","perform_time":1700000000000,"state":2}`, string(reply.Result))

	reply = ts.rpc(t, `{"jsonrpc":"2.0","id":3,"method":"CheckTransaction","params":{"id":"T1"}}`)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"create_time":1700000000000,"perform_time":1700000000000,"cancel_time":0,
		"transaction":"1","state":2,"reason":null}`, string(reply.Result))

	acc, err := ts.mem.GetAccount(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), acc.Balance)
}

func TestRPCTimeoutCarriesLocalizedMessage(t *testing.T) {
	ts := newTestServer(t, Credentials{})
	ts.rpc(t, `{"id":1,"method":"CreateTransaction","params":{"id":"T1","time":1,"amount":5000,"account":{"id":7}}}`)

	ts.now = ts.now.Add(11 * time.Minute)
	reply := ts.rpc(t, `{"id":2,"method":"PerformTransaction","params":{"id":"T1"}}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -31008, reply.Error.Code)
	assert.JSONEq(t, `{"ru":"Тайм-аут прошел","uz":"Vaqt tugashi o'tdi","en":"Timeout passed"}`, string(reply.Error.Message))
}

func TestRPCErrors(t *testing.T) {
	ts := newTestServer(t, Credentials{})

	tests := []struct {
		name string
		body string
		code int
		data string
	}{
		{"parse error", `{"id":1,`, -32700, ""},
		{"missing method", `{"id":1,"params":{}}`, -32600, "method"},
		{"unknown method", `{"id":1,"method":"Nope","params":{}}`, -32601, "Nope"},
		{"params not an object", `{"id":1,"method":"CheckTransaction","params":[1]}`, -32600, "params"},
		{"params a string", `{"id":1,"method":"GetStatement","params":"from=0"}`, -32600, "params"},
		{"statement bound too large", `{"id":1,"method":"GetStatement","params":{"from":0,"to":9223372036854775808}}`, -32600, "to"},
		{"reason out of range", `{"id":1,"method":"CancelTransaction","params":{"id":"T1","reason":-70003}}`, -32600, "reason"},
		{"invalid amount", `{"id":1,"method":"CheckPerformTransaction","params":{"amount":1,"account":{"id":7}}}`, -31001, "amount"},
		{"account not found", `{"id":1,"method":"CheckPerformTransaction","params":{"amount":5000,"account":{"id":99}}}`, -31050, "id"},
		{"transaction not found", `{"id":1,"method":"PerformTransaction","params":{"id":"unknown"}}`, -31003, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := ts.rpc(t, tt.body)
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.code, reply.Error.Code)
			assert.Equal(t, tt.data, reply.Error.Data)
			assert.Nil(t, reply.Result)
		})
	}
}

func TestRPCGetStatement(t *testing.T) {
	ts := newTestServer(t, Credentials{})
	ts.rpc(t, `{"id":1,"method":"CreateTransaction","params":{"id":"T1","time":1000,"amount":5000,"account":{"id":7}}}`)
	ts.now = ts.now.Add(time.Second)
	ts.rpc(t, `{"id":2,"method":"CreateTransaction","params":{"id":"T2","time":2000,"amount":7000,"account":{"id":3}}}`)
	ts.rpc(t, `{"id":3,"method":"CancelTransaction","params":{"id":"T2","reason":1}}`)

	reply := ts.rpc(t, `{"id":4,"method":"GetStatement","params":{"from":1700000000000,"to":1700000001000}}`)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"transactions":[
		{"id":"T1","time":1000,"amount":5000,"account":{"id":"7"},"create_time":1700000000000,
		 "perform_time":0,"cancel_time":0,"transaction":"1","state":1,"reason":null},
		{"id":"T2","time":2000,"amount":7000,"account":{"id":"3"},"create_time":1700000001000,
		 "perform_time":0,"cancel_time":1700000001000,"transaction":"2","state":-1,"reason":1}
	]}`, string(reply.Result))

	reply = ts.rpc(t, `{"id":5,"method":"GetStatement","params":{"from":1700000000001,"to":1700000000999}}`)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"transactions":[]}`, string(reply.Result))

	reply = ts.rpc(t, `{"id":6,"method":"GetStatement","params":{"from":5,"to":1}}`)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"transactions":[]}`, string(reply.Result))
}

func TestRPCRejectsNonPost(t *testing.T) {
	ts := newTestServer(t, Credentials{})
	rec := ts.do(t, http.MethodGet, "/payme", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply rpcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32300, reply.Error.Code)
	assert.JSONEq(t, `null`, string(reply.ID))

	rec = ts.do(t, http.MethodPut, "/payme", `{"id":"req-9","method":"CheckTransaction","params":{"id":"T1"}}`, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32300, reply.Error.Code)
	assert.JSONEq(t, `"req-9"`, string(reply.ID))
}

func TestRPCBasicAuth(t *testing.T) {
	ts := newTestServer(t, Credentials{Login: "Paycom", Key: "secret"})
	body := `{"id":1,"method":"CheckPerformTransaction","params":{"amount":5000,"account":{"id":7}}}`

	for name, mutate := range map[string]func(*http.Request){
		"no header":   nil,
		"wrong key":   func(r *http.Request) { r.SetBasicAuth("Paycom", "guess") },
		"wrong login": func(r *http.Request) { r.SetBasicAuth("admin", "secret") },
	} {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/payme", body, mutate)
			var reply rpcReply
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
			require.NotNil(t, reply.Error)
			assert.Equal(t, -32504, reply.Error.Code)
			assert.JSONEq(t, `1`, string(reply.ID))
		})
	}

	rec := ts.do(t, http.MethodPost, "/payme", body, func(r *http.Request) { r.SetBasicAuth("Paycom", "secret") })
	var reply rpcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"allow":true}`, string(reply.Result))
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, Credentials{})

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, http.MethodGet, "/health", "", func(r *http.Request) { r.Header.Set("X-Request-ID", "abc") })
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestHealthAndAccounts(t *testing.T) {
	ts := newTestServer(t, Credentials{})

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/accounts", `{"balance":250}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":8}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/accounts/8", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var acc struct {
		ID      int64 `json:"id"`
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.Equal(t, int64(250), acc.Balance)

	rec = ts.do(t, http.MethodGet, "/api/v1/accounts/404", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/accounts", `{"balance":-1}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
