package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/merchantops/internal/domain"
	"github.com/punchamoorthee/merchantops/internal/models"
	"github.com/punchamoorthee/merchantops/internal/service"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Metrics
var (
	rpcReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchant_rpc_requests_total",
		Help: "Total JSON-RPC calls, labeled by method and result code",
	}, []string{"method", "code"})

	rpcLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "merchant_rpc_request_duration_seconds",
		Help:    "JSON-RPC call latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method"})
)

var knownMethods = map[string]bool{
	"CheckPerformTransaction": true,
	"CreateTransaction":       true,
	"PerformTransaction":      true,
	"CheckTransaction":        true,
	"CancelTransaction":       true,
	"GetStatement":            true,
}

// Merchant is the state machine as seen by the transport.
type Merchant interface {
	Dispatch(ctx context.Context, method string, p service.Params) (interface{}, error)
}

// AccountStore backs the account inspection endpoints and the health check.
type AccountStore interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, balance int64) (int64, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
}

// Credentials guard the RPC endpoint with HTTP Basic auth. An empty Key
// disables the check.
type Credentials struct {
	Login string
	Key   string
}

type Handler struct {
	merchant Merchant
	accounts AccountStore
	creds    Credentials
	log      *zap.Logger
}

func NewHandler(m Merchant, accounts AccountStore, creds Credentials, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{merchant: m, accounts: accounts, creds: creds, log: log}
}

// Router wires every endpoint onto a fresh mux router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID, h.AccessLog)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods("GET")

	r.HandleFunc("/payme", h.RPC)
	r.HandleFunc("/", h.RPC)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	return r
}

// RPC decodes one provider call, dispatches it and writes the envelope.
// Protocol errors are always delivered with HTTP 200.
func (h *Handler) RPC(w http.ResponseWriter, r *http.Request) {
	// Transport and auth replies echo the request id, so decode first.
	var req models.Request
	body, parseErr := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if parseErr == nil {
		parseErr = json.Unmarshal(body, &req)
	}
	if parseErr != nil {
		req = models.Request{}
	}

	if r.Method != http.MethodPost {
		h.respondRPCError(w, req.ID, "invalid", service.ErrTransport)
		return
	}
	if !h.authorized(r) {
		h.respondRPCError(w, req.ID, "invalid", service.ErrInsufficientPrivilege)
		return
	}
	if parseErr != nil {
		h.respondRPCError(w, nil, "invalid", service.ErrParse)
		return
	}
	if req.Method == "" {
		h.respondRPCError(w, req.ID, "invalid", service.ErrMalformedRequest.WithData("method"))
		return
	}

	label := req.Method
	if !knownMethods[label] {
		label = "unknown"
	}
	timer := prometheus.NewTimer(rpcLatency.WithLabelValues(label))
	defer timer.ObserveDuration()

	params, err := service.DecodeParams(req.Params)
	if err != nil {
		h.respondRPCError(w, req.ID, label, service.ErrMalformedRequest.WithData("params"))
		return
	}

	result, err := h.merchant.Dispatch(r.Context(), req.Method, params)
	if err != nil {
		e := service.AsError(err, service.ErrSystem)
		if !errors.As(err, new(*service.Error)) {
			h.log.Error("unexpected dispatch failure", zap.String("method", req.Method), zap.Error(err))
		}
		h.respondRPCError(w, req.ID, label, e)
		return
	}

	rpcReqTotal.WithLabelValues(label, "0").Inc()
	writeJSON(w, http.StatusOK, models.NewResult(req.ID, result))
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.creds.Key == "" {
		return true
	}
	login, key, ok := r.BasicAuth()
	if !ok {
		return false
	}
	loginOK := subtle.ConstantTimeCompare([]byte(login), []byte(h.creds.Login)) == 1
	keyOK := subtle.ConstantTimeCompare([]byte(key), []byte(h.creds.Key)) == 1
	return loginOK && keyOK
}

func (h *Handler) respondRPCError(w http.ResponseWriter, id json.RawMessage, label string, e *service.Error) {
	rpcReqTotal.WithLabelValues(label, strconv.Itoa(e.Code)).Inc()
	writeJSON(w, http.StatusOK, models.NewError(id, models.ErrorBody{
		Code:    e.Code,
		Message: e.Message,
		Data:    e.Data,
	}))
}
