package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/agent-beacon/backend/internal/config"
	"github.com/agent-beacon/backend/internal/ingest"
	"github.com/agent-beacon/backend/internal/mock"
	"github.com/agent-beacon/backend/internal/mqtt"
	"github.com/agent-beacon/backend/internal/session"
	"github.com/agent-beacon/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Simulate agent publishers instead of connecting to a broker")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	registry := session.NewRegistry(cfg.Registry.Policy())
	broadcaster := ws.NewBroadcaster(registry, cfg.Broadcast.Throttle, cfg.Broadcast.SnapshotInterval)
	broadcaster.SetPrivacy(cfg.Privacy.Filter())
	engine := ingest.NewEngine(registry, broadcaster, cfg.Registry.SweepInterval)

	server := ws.NewServer(registry, broadcaster, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)
	server.SetHealthHook(engine.DecodeHealth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Start(ctx)

	var broker *mqtt.Client
	if *mockMode {
		log.Println("Starting in mock mode (simulated publishers)")
		gen := mock.NewGenerator(engine)
		gen.Start(ctx)
	} else {
		broker, err = mqtt.Connect(cfg.Broker, engine)
		if err != nil {
			log.Fatalf("Broker connection failed: %v", err)
		}
	}

	// Live reload: file watcher and SIGHUP both funnel into applyReload.
	// Server-level settings (port, host, auth) require a restart.
	var reloadMu sync.Mutex
	current := cfg
	applyReload := func(next *config.Config) {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		changes := current.Diff(next)
		if len(changes) == 0 {
			return
		}
		log.Printf("Config reloaded: %v", changes)
		registry.SetPolicy(next.Registry.Policy())
		engine.SetSweepInterval(next.Registry.SweepInterval)
		broadcaster.SetPrivacy(next.Privacy.Filter())
		current = next
	}

	if err := config.Watch(ctx, *configPath, applyReload); err != nil {
		log.Printf("Config watch disabled: %v", err)
	}

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			next, err := config.LoadOrDefault(*configPath)
			if err != nil {
				log.Printf("SIGHUP reload failed, keeping previous config: %v", err)
				continue
			}
			applyReload(next)
		}
	}()

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		if broker != nil {
			broker.Close()
		}
		broadcaster.Stop()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
