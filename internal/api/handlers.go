package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/merchantops/internal/domain"
)

var httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "merchant_http_requests_total",
	Help: "Total non-RPC HTTP requests, labeled by status code",
}, []string{"method", "endpoint", "status"})

type createAccountRequest struct {
	Balance int64 `json:"balance"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.accounts.Ping(ctx); err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database_unreachable"}, "GET", "/health")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/accounts")
			return
		}
	}
	if req.Balance < 0 {
		h.respondError(w, http.StatusUnprocessableEntity, "Balance must not be negative", "POST", "/accounts")
		return
	}

	id, err := h.accounts.CreateAccount(r.Context(), req.Balance)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "System error creating account", "POST", "/accounts")
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]int64{"id": id}, "POST", "/accounts")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid account id", "GET", "/accounts/{id}")
		return
	}

	acc, err := h.accounts.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			h.respondError(w, http.StatusNotFound, "Not Found", "GET", "/accounts/{id}")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "System error reading account", "GET", "/accounts/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, acc, "GET", "/accounts/{id}")
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	writeJSON(w, code, payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
