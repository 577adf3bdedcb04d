package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/fairyhunter13/scan-kiosk/internal/capture"
	"github.com/fairyhunter13/scan-kiosk/internal/catalog"
	"github.com/fairyhunter13/scan-kiosk/internal/config"
	"github.com/fairyhunter13/scan-kiosk/internal/emitter"
	httpopenapi "github.com/fairyhunter13/scan-kiosk/internal/http/openapi"
	"github.com/fairyhunter13/scan-kiosk/internal/http/web"
	"github.com/fairyhunter13/scan-kiosk/internal/model"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
	"github.com/fairyhunter13/scan-kiosk/internal/outbox"
	"github.com/fairyhunter13/scan-kiosk/internal/overlay"
	"github.com/fairyhunter13/scan-kiosk/internal/session"
)

// App holds the handlers' collaborators.
type App struct {
	Cfg     config.Config
	Session *session.Controller
	Catalog session.Resolver
	Outbox  *outbox.Outbox
	Prices  *overlay.Renderer
	// Broker is set when events go to MQTT.
	Broker *emitter.MQTT

	closing atomic.Bool
	started time.Time
}

// NewApp wires the HTTP layer. ob may be nil when events are not published.
func NewApp(cfg config.Config, ctl *session.Controller, cat session.Resolver, ob *outbox.Outbox, prices *overlay.Renderer) *App {
	return &App{Cfg: cfg, Session: ctl, Catalog: cat, Outbox: ob, Prices: prices, started: time.Now()}
}

// StartShutdown rejects new scan sessions and manual scans.
func (a *App) StartShutdown() {
	a.closing.Store(true)
}

type statusResp struct {
	Status  session.Status `json:"status"`
	Error   string         `json:"error,omitempty"`
	Details string         `json:"details,omitempty"`
}

func (a *App) startScanHandler(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	st, err := a.Session.Start()
	if err != nil {
		code := "start_failed"
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			code = "device_unavailable"
		}
		writeJSON(w, http.StatusServiceUnavailable, statusResp{Status: st, Error: code, Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResp{Status: st})
}

func (a *App) stopScanHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResp{Status: a.Session.Stop()})
}

func (a *App) cartDataHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Session.Cart())
}

type cartResp struct {
	Lines     []model.CartLine `json:"lines"`
	Total     int64            `json:"total"`
	ItemCount int64            `json:"item_count"`
}

func (a *App) apiCartHandler(w http.ResponseWriter, r *http.Request) {
	snap := a.Session.Cart()
	lines := snap.Lines
	if lines == nil {
		lines = []model.CartLine{}
	}
	writeJSON(w, http.StatusOK, cartResp{Lines: lines, Total: snap.Total(), ItemCount: snap.ItemCount()})
}

func (a *App) clearCartHandler(w http.ResponseWriter, r *http.Request) {
	a.Session.ClearCart()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type scanReq struct {
	Code string `json:"code"`
}

type scanAck struct {
	Status    string         `json:"status"`
	RequestID string         `json:"request_id"`
	Code      string         `json:"code"`
	Line      model.CartLine `json:"line"`
}

func (a *App) scanHandler(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return
	}
	var req scanReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "code is required")
		return
	}
	line, err := a.Session.Submit(req.Code)
	if err != nil {
		writeEngineError(w, err, "scan_failed", req.Code)
		return
	}
	writeJSON(w, http.StatusOK, scanAck{
		Status:    "accepted",
		RequestID: RequestIDFromContext(r.Context()),
		Code:      req.Code,
		Line:      line,
	})
}

func (a *App) getProductHandler(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, ok := catalog.NormalizeCode(code); !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "code must be numeric")
		return
	}
	p, ok := a.Catalog.Resolve(code)
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Session.State())
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	m := map[string]any{
		"session":    a.Session.Stats(),
		"running":    a.Session.Running(),
		"uptime_sec": time.Since(a.started).Seconds(),
	}
	if a.Outbox != nil {
		m["outbox"] = a.Outbox.Metrics()
	}
	if a.Broker != nil {
		m["mqtt"] = a.Broker.Stats()
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *App) pageHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := a.Session.Cart()
		data := web.PageData{
			Title:     name,
			Running:   a.Session.Running(),
			Lines:     snap.Lines,
			Total:     snap.Total(),
			ItemCount: snap.ItemCount(),
			Now:       time.Now(),
			Instance:  a.Cfg.InstanceID,
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := web.Render(w, name, data, a.Prices.FormatPrice); err != nil {
			obs.Logger.Error("page_render_failed", "page", name, "error", err)
		}
	}
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}

func (a *App) docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(docsHTML))
}

const docsHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Scan Kiosk API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui'
      });
    </script>
  </body>
</html>`
