package session

import "sync/atomic"

type counters struct {
	framesRead     atomic.Uint64
	framesMissed   atomic.Uint64
	readErrors     atomic.Uint64
	deviceFailures atomic.Uint64
	detections     atomic.Uint64
	suppressed     atomic.Uint64
	unresolved     atomic.Uint64
	accepted       atomic.Uint64
	previewFrames  atomic.Uint64
	previewClients atomic.Int64
}

// Stats are engine counters since process start.
type Stats struct {
	FramesRead     uint64 `json:"frames_read"`
	FramesMissed   uint64 `json:"frames_missed"`
	ReadErrors     uint64 `json:"read_errors"`
	DeviceFailures uint64 `json:"device_failures"`
	Detections     uint64 `json:"detections"`
	Suppressed     uint64 `json:"suppressed"`
	Unresolved     uint64 `json:"unresolved"`
	Accepted       uint64 `json:"accepted"`
	PreviewFrames  uint64 `json:"preview_frames"`
	PreviewClients int64  `json:"preview_clients"`
}

// Stats returns the current counters.
func (c *Controller) Stats() Stats {
	return Stats{
		FramesRead:     c.stats.framesRead.Load(),
		FramesMissed:   c.stats.framesMissed.Load(),
		ReadErrors:     c.stats.readErrors.Load(),
		DeviceFailures: c.stats.deviceFailures.Load(),
		Detections:     c.stats.detections.Load(),
		Suppressed:     c.stats.suppressed.Load(),
		Unresolved:     c.stats.unresolved.Load(),
		Accepted:       c.stats.accepted.Load(),
		PreviewFrames:  c.stats.previewFrames.Load(),
		PreviewClients: c.stats.previewClients.Load(),
	}
}
