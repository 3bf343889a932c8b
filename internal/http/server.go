package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"RampEngine/internal/errs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const BusinessHeader = "X-Business-Id"

type ctxKey struct{}

type Server struct {
	Router *chi.Mux
}

// NewServer wires the routes. metrics serves /metrics; nil uses the default
// Prometheus registry.
func NewServer(handler *Handler, metrics http.Handler) *Server {
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(handler.Logger))
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Route("/v1/offramp", func(r chi.Router) {
		r.Use(requireBusiness)
		r.Post("/quote", handler.Quote)
		r.Post("/orders", handler.CreateOrder)
		r.Get("/orders", handler.ListOrders)
		r.Get("/orders/reference/{reference}", handler.GetOrderByReference)
		r.Get("/orders/{orderId}", handler.GetOrder)
		r.Post("/orders/{orderId}/cancel", handler.CancelOrder)
		r.Post("/orders/{orderId}/retry", handler.RetryOrder)
	})

	r.Route("/v1/webhooks", func(r chi.Router) {
		r.Post("/deposit", handler.DepositWebhook)
		r.Post("/payout", handler.PayoutWebhook)
	})

	return &Server{Router: r}
}

// requireBusiness rejects requests without a business identity. The
// identity is authenticated upstream of this service.
func requireBusiness(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(BusinessHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, errs.CodeUnauthorized, "missing "+BusinessHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func businessID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+BusinessHeader+", X-Webhook-Signature")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
