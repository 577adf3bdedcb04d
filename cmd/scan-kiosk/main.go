// Package main boots the self-checkout scan kiosk HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/scan-kiosk/internal/capture"
	"github.com/fairyhunter13/scan-kiosk/internal/capture/gstcam"
	"github.com/fairyhunter13/scan-kiosk/internal/catalog"
	"github.com/fairyhunter13/scan-kiosk/internal/config"
	"github.com/fairyhunter13/scan-kiosk/internal/decode"
	"github.com/fairyhunter13/scan-kiosk/internal/emitter"
	httpapi "github.com/fairyhunter13/scan-kiosk/internal/http"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
	"github.com/fairyhunter13/scan-kiosk/internal/outbox"
	"github.com/fairyhunter13/scan-kiosk/internal/overlay"
	"github.com/fairyhunter13/scan-kiosk/internal/session"
)

func main() {
	obs.InitLogger()
	cfg, err := config.FromEnv()
	if err != nil {
		obs.Logger.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	obs.Configure(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	obs.Logger.Info("service_starting", "instance_id", cfg.InstanceID, "camera_source", cfg.Camera.Source)

	cat, err := catalog.Load(cfg.Catalog.Path, cfg.Catalog.CurrencyPrefix)
	if err != nil {
		obs.Logger.Error("catalog_load_failed", "path", cfg.Catalog.Path, "error", err)
		os.Exit(1)
	}

	opener, err := newOpener(cfg)
	if err != nil {
		obs.Logger.Error("camera_setup_failed", "error", err)
		os.Exit(1)
	}
	dec, err := decode.NewZXing(cfg.Scan.Formats)
	if err != nil {
		obs.Logger.Error("decoder_setup_failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pub outbox.Publisher = emitter.Log{}
	var mq *emitter.MQTT
	if cfg.MQTT.Broker != "" {
		mq = emitter.NewMQTT(cfg.MQTT, cfg.InstanceID)
		cctx, ccancel := context.WithTimeout(ctx, 5*time.Second)
		if err := mq.Connect(cctx); err != nil {
			// The client keeps retrying; events fail until it connects.
			obs.Logger.Warn("mqtt_connect_failed", "broker", cfg.MQTT.Broker, "error", err)
		}
		ccancel()
		pub = mq
	}
	ob := outbox.New(cfg.Outbox, pub)
	ob.Start(ctx)

	prices := overlay.New(cfg.Catalog.CurrencyPrefix)
	ctl := session.New(session.Config{
		CoolDown:       cfg.Scan.CoolDown,
		Interval:       cfg.Scan.Interval,
		SerializeReads: cfg.Scan.SerializeReads,
		JPEGQuality:    cfg.Preview.JPEGQuality,
	}, session.Deps{
		Resolver: cat,
		Decoder:  dec,
		Camera: capture.NewSession(opener, capture.Config{
			Device:      cfg.Camera.Device,
			Width:       cfg.Camera.Width,
			Height:      cfg.Camera.Height,
			FPS:         cfg.Camera.FPS,
			ReadTimeout: cfg.Scan.ReadTimeout,
		}),
		Overlay:  prices,
		Notifier: ob,
	})

	app := httpapi.NewApp(cfg, ctl, cat, ob, prices)
	app.Broker = mq
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("http_server_error", "error", err)
			os.Exit(1)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigc
	obs.Logger.Info("shutdown_signal", "signal", s.String())

	app.StartShutdown()
	ctl.Stop()
	ob.CloseIntake()
	obs.Logger.Info("shutdown_drain_begin", "backlog_size", ob.Metrics().Backlog)

	ctxDrain, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if drained := ob.DrainUntil(ctxDrain); !drained {
		obs.Logger.Warn("shutdown_drain_timeout")
	} else {
		obs.Logger.Info("shutdown_drain_complete")
	}

	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err)
	}
	ob.Stop()
	if mq != nil {
		mq.Disconnect()
	}
	obs.Logger.Info("service_stopped")
}

func newOpener(cfg config.Config) (capture.Opener, error) {
	if cfg.Camera.Source != config.SourceSynthetic {
		return gstcam.New(), nil
	}
	cam, err := capture.LoadFixtures(cfg.Camera.FixtureDir)
	if err != nil {
		return nil, err
	}
	return cam, nil
}
