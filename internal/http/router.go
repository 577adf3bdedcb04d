package httpapi

import (
	"expvar"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(WithRequestID, WithLogging(app.Session.SessionID))

	for path, page := range map[string]string{
		"/":         "welcome",
		"/cart":     "cart",
		"/payment":  "payment",
		"/receipt":  "receipt",
		"/thankyou": "thankyou",
	} {
		r.Get(path, app.pageHandler(page))
	}

	r.Get("/start_scan", app.startScanHandler)
	r.Post("/start_scan", app.startScanHandler)
	r.Get("/stop_scan", app.stopScanHandler)
	r.Post("/stop_scan", app.stopScanHandler)
	r.Get("/video_feed", app.videoFeedHandler)
	r.Get("/cart_data", app.cartDataHandler)

	r.Get("/api/cart", app.apiCartHandler)
	r.Post("/cart/clear", app.clearCartHandler)
	r.Post("/scan", app.scanHandler)
	r.Get("/products/{code}", app.getProductHandler)
	r.Get("/status", app.statusHandler)

	r.Get("/healthz", app.healthHandler)
	r.Get("/debug/metrics", app.metricsHandler)
	r.Handle("/debug/vars", expvar.Handler())
	r.Get("/openapi.yaml", app.openapiHandler)
	r.Get("/docs", app.docsHandler)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
	})
	return r
}
