// Package gstcam opens V4L2 cameras through a GStreamer appsink pipeline:
//
//	v4l2src → videoconvert → videoscale → capsfilter(RGBA) → appsink
package gstcam

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/fairyhunter13/scan-kiosk/internal/capture"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

const startupTimeout = 2 * time.Second

// Opener acquires V4L2 devices.
type Opener struct{}

// New returns a GStreamer opener.
func New() Opener { return Opener{} }

var initOnce sync.Once

// Open builds and starts the pipeline. Any failure before the pipeline is
// playing is reported as capture.ErrDeviceUnavailable.
func (Opener) Open(ctx context.Context, cfg capture.Config) (capture.Device, error) {
	if _, err := os.Stat(cfg.Device); err != nil {
		return nil, errors.Wrap(capture.ErrDeviceUnavailable, err.Error())
	}
	initOnce.Do(func() { gst.Init(nil) })

	pipeline, sink, err := buildPipeline(cfg)
	if err != nil {
		return nil, errors.Wrap(capture.ErrDeviceUnavailable, err.Error())
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	d := &device{
		pipeline: pipeline,
		box:      capture.NewMailbox(),
		timeout:  timeout,
		width:    cfg.Width,
		height:   cfg.Height,
		path:     cfg.Device,
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: d.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, errors.Wrap(capture.ErrDeviceUnavailable, err.Error())
	}
	if err := awaitPlaying(ctx, pipeline); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, errors.Wrap(capture.ErrDeviceUnavailable, err.Error())
	}

	monCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.monitor(monCtx)
	return d, nil
}

func buildPipeline(cfg capture.Config) (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, errors.Wrap(err, "create pipeline")
	}
	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, nil, errors.Wrap(err, "create v4l2src")
	}
	src.SetProperty("device", cfg.Device)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, errors.Wrap(err, "create videoconvert")
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, errors.Wrap(err, "create videoscale")
	}
	caps, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, errors.Wrap(err, "create capsfilter")
	}
	caps.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", cfg.Width, cfg.Height)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, errors.Wrap(err, "create appsink")
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, convert, scale, caps, sink.Element)
	if err := gst.ElementLinkMany(src, convert, scale, caps, sink.Element); err != nil {
		return nil, nil, errors.Wrap(err, "link pipeline")
	}
	return pipeline, sink, nil
}

// awaitPlaying drains the bus until the pipeline reports PLAYING or an error.
func awaitPlaying(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			return errors.New(msg.ParseError().Error())
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				if _, state := msg.ParseStateChanged(); state == gst.StatePlaying {
					return nil
				}
			}
		}
	}
	return errors.New("pipeline did not reach PLAYING")
}

type device struct {
	pipeline *gst.Pipeline
	box      *capture.Mailbox
	timeout  time.Duration
	width    int
	height   int
	path     string

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (d *device) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	info := buffer.Map(gst.MapRead)
	data := info.Bytes()
	want := d.width * d.height * 4
	if len(data) < want {
		buffer.Unmap()
		obs.Logger.Debug("camera_short_buffer", "device", d.path, "bytes", len(data), "want", want)
		return gst.FlowOK
	}
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	copy(img.Pix, data[:want])
	buffer.Unmap()

	d.box.Publish(img, time.Now())
	return gst.FlowOK
}

// monitor closes the mailbox on a pipeline error or end of stream so readers
// see a terminal error instead of timing out forever.
func (d *device) monitor(ctx context.Context) {
	defer close(d.done)
	bus := d.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			obs.Logger.Error("camera_end_of_stream", "device", d.path)
			d.box.Close(capture.ErrDeviceFailed)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			obs.Logger.Error("camera_pipeline_error", "device", d.path, "error", gerr.Error(), "debug", gerr.DebugString())
			d.box.Close(errors.Wrap(capture.ErrDeviceFailed, gerr.Error()))
			return
		}
	}
}

func (d *device) Read(ctx context.Context) (capture.Frame, error) {
	return d.box.Next(ctx, d.timeout)
}

func (d *device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cancel()
		<-d.done
		d.box.Close(capture.ErrDeviceClosed)
		if e := d.pipeline.SetState(gst.StateNull); e != nil {
			err = errors.Wrap(e, "stop pipeline")
		}
		obs.Logger.Info("camera_pipeline_stopped", "device", d.path, "frames", d.box.Published())
	})
	return err
}
