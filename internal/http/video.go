package httpapi

import (
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

const mjpegBoundary = "frame"

// videoFeedHandler streams the annotated preview as MJPEG until the session
// stops or the client goes away.
func (a *App) videoFeedHandler(w http.ResponseWriter, r *http.Request) {
	frames, err := a.Session.Preview(r.Context())
	if err != nil {
		writeEngineError(w, err, "preview_failed", "")
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(mjpegBoundary); err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "preview_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)

	sent := 0
	for jpg := range frames {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(jpg))},
		})
		if err != nil {
			break
		}
		if _, err := part.Write(jpg); err != nil {
			break
		}
		if err := rc.Flush(); err != nil {
			break
		}
		sent++
	}
	_ = mw.Close()
	obs.Logger.Debug("video_feed_closed", "frames", sent, "request_id", RequestIDFromContext(r.Context()))
}
