package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"lintas/internal/auth"
	"lintas/internal/bus"
	"lintas/internal/config"
	"lintas/internal/database"
	"lintas/internal/detection"
	"lintas/internal/frames"
	"lintas/internal/notify"
	"lintas/internal/server"
	"lintas/internal/stream"
	"lintas/internal/worker"
	"lintas/internal/ws"
)

func main() {
	env := config.LoadApp()

	var (
		addrF     = flag.String("addr", env.HTTPAddr, "HTTP listen address")
		deviceF   = flag.String("device", env.Device, "video source: file path, rtsp:// or http(s):// URL, or /dev/video*")
		fpsF      = flag.Int("fps", env.FPS, "capture frame rate cap")
		oracleF   = flag.String("oracle-url", env.OracleURL, "tracking server base URL")
		scriptF   = flag.String("oracle-script", env.OracleScript, "tracking worker script, used when no URL is set")
		modelF    = flag.String("oracle-model", env.OracleModel, "model weights handed to the worker script")
		dbF       = flag.String("db", env.DBPath, "SQLite database path")
		settingsF = flag.String("settings", env.SettingsPath, "settings JSON file, loaded at start and saved on exit")
		profileF  = flag.String("profile", env.Profile, "tuning profile to start from (speed, balanced, accuracy)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[lintas] ", log.Ltime)

	if *deviceF == "" {
		logger.Fatal("no video source: set -device or VIDEO_DEVICE")
	}

	// Tuning settings: saved file when present, otherwise defaults,
	// optionally overlaid with a named profile.
	base, err := config.Load(*settingsF)
	if err != nil {
		logger.Fatalf("settings load failed: %v", err)
	}
	settings := config.NewStore(base)
	if *profileF != "" {
		snap, _ := settings.Get()
		if err := snap.ApplyProfile(*profileF); err != nil {
			logger.Fatalf("invalid profile: %v", err)
		}
		settings.Set(snap)
	}

	// The tracking oracle: a remote server when a URL is configured,
	// otherwise a managed worker subprocess. The counting worker owns
	// its lifecycle.
	var tracker detection.Tracker
	switch {
	case *oracleF != "":
		tracker = detection.NewHTTPTracker(detection.HTTPTrackerConfig{
			Endpoint: *oracleF,
			Annotate: true,
		})
	case *scriptF != "":
		t, err := detection.NewPythonTracker(detection.PythonTrackerConfig{
			Python: env.OraclePython,
			Script: *scriptF,
			Model:  *modelF,
		})
		if err != nil {
			logger.Fatalf("tracker setup failed: %v", err)
		}
		tracker = t
	default:
		logger.Fatal("no tracking oracle: set -oracle-url or -oracle-script")
	}

	store, err := database.New(*dbF)
	if err != nil {
		logger.Fatalf("database open failed: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatalf("database migration failed: %v", err)
	}

	sess, err := store.CreateSession(*deviceF)
	if err != nil {
		logger.Fatalf("session create failed: %v", err)
	}
	logger.Printf("session %s (%s)", sess.ID, *deviceF)

	// Fan-out bus and its consumers.
	events := bus.New()
	hub := ws.NewHub()
	events.Subscribe(hub)
	mjpeg := stream.NewMJPEGStream()
	events.Subscribe(mjpeg)
	events.Subscribe(database.NewRecorder(store, sess.ID))

	var notifier *notify.Notifier
	if env.TelegramBotToken != "" {
		botCfg := notify.Config{
			BotToken:        env.TelegramBotToken,
			ChatID:          env.TelegramChatID,
			CooldownSeconds: env.TelegramCooldownSec,
		}
		if err := notify.ValidateConfig(botCfg); err != nil {
			logger.Fatalf("telegram config invalid: %v", err)
		}
		notifier = notify.NewNotifier(notify.NewBot(botCfg), *deviceF,
			time.Duration(env.SummaryIntervalMin)*time.Minute)
		events.Subscribe(notifier)
	}

	snap, gen := settings.Get()
	w := worker.New(tracker, snap)
	bridge := worker.NewBridge(w, events)

	// Channel used by both the signal handler and the server goroutine
	// to tell the main goroutine when to stop.
	errc := make(chan error, 2)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		bridge.Run()
	}()

	if notifier != nil && notifier.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notifier.Run(ctx)
		}()
	}

	// Capture feeds the worker; a settings snapshot rides along with a
	// frame only when the generation moved. lastGen is touched only on
	// the capture goroutine.
	lastGen := gen
	source := frames.New(frames.Config{Device: *deviceF, FPS: *fpsF}, func(f frames.Frame) {
		in := worker.FrameInput{JPEG: f.Data, Width: f.Width, Height: f.Height, Seq: f.Seq}
		if cur, g := settings.Get(); g != lastGen {
			in.Settings = cur
			lastGen = g
		}
		w.EnqueueFrame(in)
	})
	if err := source.Start(); err != nil {
		store.EndSession(sess.ID, database.SessionFailed)
		logger.Fatalf("capture start failed: %v", err)
	}

	srv := server.New(server.Config{
		Address:   *addrF,
		SessionID: sess.ID,
		Source:    *deviceF,
		Settings:  settings,
		Store:     store,
		Worker:    w,
		Tracker:   tracker,
		Auth: auth.New(auth.Config{
			Username:    env.AuthUsername,
			Password:    env.AuthPassword,
			JWTSecret:   env.JWTSecret,
			TokenExpiry: env.JWTExpiry,
		}),
		Hub:    hub,
		Stream: mjpeg,
		Frames: source,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			errc <- err
		}
	}()

	// Wait for signal or server failure.
	logger.Printf("exiting (%v)", <-errc)

	cancel()
	source.Stop()
	w.Stop()
	wg.Wait()

	if *settingsF != "" {
		final, _ := settings.Get()
		if err := final.Save(*settingsF); err != nil {
			logger.Printf("settings save failed: %v", err)
		}
	}
	logger.Println("exited")
}
