// Package emitter delivers outbox events to MQTT or to the log.
package emitter

import (
	"github.com/go-faster/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/fairyhunter13/scan-kiosk/internal/model"
)

// Encode serializes ev as msgpack.
func Encode(ev model.Event) ([]byte, error) {
	b, err := msgpack.Marshal(&ev)
	if err != nil {
		return nil, errors.Wrap(err, "encode event")
	}
	return b, nil
}

// Decode parses a payload produced by Encode.
func Decode(b []byte) (model.Event, error) {
	var ev model.Event
	if err := msgpack.Unmarshal(b, &ev); err != nil {
		return model.Event{}, errors.Wrap(err, "decode event")
	}
	return ev, nil
}
