package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strefethen/playout-conductor/internal/audit"
	"github.com/strefethen/playout-conductor/internal/clock"
	"github.com/strefethen/playout-conductor/internal/conductor"
	"github.com/strefethen/playout-conductor/internal/config"
	"github.com/strefethen/playout-conductor/internal/controlapi"
	"github.com/strefethen/playout-conductor/internal/device"
	"github.com/strefethen/playout-conductor/internal/device/videoplayout"
	"github.com/strefethen/playout-conductor/internal/eventbus"
	"github.com/strefethen/playout-conductor/internal/mapping"
	"github.com/strefethen/playout-conductor/internal/resolver"
	"github.com/strefethen/playout-conductor/internal/wsstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	bus := eventbus.New()
	clk := clock.NewSystem()

	initialTable, err := mapping.LoadFile(cfg.MappingFilePath)
	if err != nil {
		log.Printf("mapping: %v (starting with an empty table)", err)
		initialTable = mapping.Table{}
	}
	mappingStore := mapping.NewStore(initialTable)

	var trail *audit.Trail
	if cfg.AuditDBPath != "" {
		trail, err = audit.Open(cfg.AuditDBPath)
		if err != nil {
			log.Fatalf("audit: %v", err)
		}
		defer trail.Close()
	}

	c := conductor.New(clk, resolver.NewReference(), bus, nil, conductor.Options{
		LookaheadMs:       cfg.LookaheadMs,
		InitializeAsClear: cfg.InitializeAsClear,
		ReconcileCron:     cfg.ReconcileCron,
	})

	mappingStore.OnChange(func(t mapping.Table) {
		c.SetMapping(context.Background(), t)
	})

	videoplayoutFactory := func(deviceID string) (device.Adapter, error) {
		adapter := videoplayout.NewAdapter(deviceID, clk, bus, clk, mappingStore.Get(), nil, cfg.SlowCommandThresholdMs)
		if trail != nil {
			adapter.SetAuditTrail(trail)
		}
		return adapter, nil
	}
	factories := map[string]controlapi.DeviceFactory{
		"videoplayout": videoplayoutFactory,
	}

	hub := wsstream.New(bus)

	mux := http.NewServeMux()
	mux.Handle("/", controlapi.Router(c, cfg.ControlAPIToken, cfg.JWTSecret, factories))
	mux.Handle("/ws/events", hub.Handler())

	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	c.Start(context.Background())

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c.Stop()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("playout-conductor listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
