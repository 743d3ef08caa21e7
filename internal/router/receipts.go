package router

import (
	"net/http"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/handlers"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/middleware"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/services"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/storage"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"

	"github.com/gorilla/mux"
)

type Options struct {
	MaxFileSize    int64
	RateLimitRPS   float64
	RateLimitBurst int
	TrustedProxies middleware.TrustedProxies
}

func NewRouter(receiptService services.ReceiptService, logger *utils.Logger, opts Options) http.Handler {
	r := mux.NewRouter()

	// Middlewares
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Recovery(logger))

	receiptHandler := handlers.NewReceiptHandler(receiptService, logger, opts.MaxFileSize)
	limiter := middleware.NewIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	rateLimited := middleware.RateLimit(limiter, opts.TrustedProxies, logger)

	// Receipt endpoints
	api := r.PathPrefix("/extract-receipt-details").Subrouter()
	api.Handle("", rateLimited(http.HandlerFunc(receiptHandler.ExtractReceiptDetails))).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/health", receiptHandler.Health).Methods(http.MethodGet)
	api.HandleFunc("/history/{id}", receiptHandler.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/receipts", receiptHandler.ListReceipts).Methods(http.MethodGet)
	api.HandleFunc("/receipts/export", receiptHandler.ExportReceipts).Methods(http.MethodGet)
	api.HandleFunc("/validate", receiptHandler.ValidateReceipt).Methods(http.MethodPost, http.MethodOptions)

	// Stored images
	r.HandleFunc(storage.ImageRoutePrefix+"{filename}", receiptHandler.ServeImage).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.WriteError(w, utils.NewNotFoundError("Route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.WriteError(w, utils.NewAppError(http.StatusMethodNotAllowed, utils.CodeValidation, "Method not allowed"))
	})

	return r
}
