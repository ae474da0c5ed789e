// Copyright 2026 Provenact Labs
//
// Operator node entry point. Wires configuration, storage, the admission
// engine, the checkpoint engine, metrics, and the HTTP API, then serves
// until interrupted.

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/provenact/operator-node/pkg/anchor"
	"github.com/provenact/operator-node/pkg/checkpoint"
	"github.com/provenact/operator-node/pkg/config"
	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/keys"
	"github.com/provenact/operator-node/pkg/metrics"
	"github.com/provenact/operator-node/pkg/node"
	"github.com/provenact/operator-node/pkg/registry"
	"github.com/provenact/operator-node/pkg/server"
	"github.com/provenact/operator-node/pkg/store"
	"github.com/provenact/operator-node/pkg/store/archive"
	"github.com/provenact/operator-node/pkg/store/kvdb"
)

func main() {
	logger := log.New(log.Writer(), "[Node] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("%v", err)
	}

	operatorKey, err := keys.FromHex(cfg.OperatorKeyHex)
	if err != nil {
		logger.Fatalf("failed to load operator key: %v", err)
	}

	reg, err := registry.LoadFile(cfg.OperatorsFile)
	if err != nil {
		logger.Fatalf("failed to load operator registry: %v", err)
	}
	self, err := reg.Lookup(cfg.OperatorID)
	if err != nil {
		logger.Fatalf("this node is not in the operator registry: %v", err)
	}
	if self.PublicKey != operatorKey.PublicHex() {
		logger.Fatalf("OPERATOR_KEY does not match the registry key for %s", cfg.OperatorID)
	}

	// Storage: durable KV for the event store, optional Postgres mirror.
	kv, err := kvdb.Open("provenact", cfg.DataDir)
	if err != nil {
		logger.Fatalf("failed to open store: %v", err)
	}
	defer kv.Close()
	eventStore := store.New(kv)

	var mirror *archive.Archive
	if cfg.DatabaseURL != "" {
		mirror, err = archive.Open(cfg.DatabaseURL, nil)
		if err != nil {
			logger.Printf("archive unavailable, continuing without it: %v", err)
		} else {
			defer mirror.Close()
		}
	}

	m := metrics.New()

	engineCfg := &node.Config{
		OperatorID:                  cfg.OperatorID,
		QuorumM:                     cfg.QuorumM,
		QuorumN:                     cfg.QuorumN,
		MaxFutureClockSkewMs:        cfg.MaxFutureClockSkewMs,
		MaxPastClockSkewMs:          cfg.MaxPastClockSkewMs,
		AttestationMinConfirmations: uint32(cfg.AttestationMinConfirmations),
		ChainID:                     cfg.ChainID,
	}
	if mirror != nil {
		engineCfg.OnAdmit = func(ev *event.Event) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := mirror.RecordEvent(ctx, ev); err != nil {
					logger.Printf("archive mirror failed: %v", err)
				}
			}()
		}
	}
	engine, err := node.New(engineCfg, eventStore, reg, operatorKey, nil, m)
	if err != nil {
		logger.Fatalf("failed to build engine: %v", err)
	}

	// Checkpoint engine with HTTP peer signing. The anchor sink is the
	// in-process recorder; no configuration option selects another sink.
	cpCfg := checkpoint.DefaultConfig()
	cpCfg.OperatorID = cfg.OperatorID
	cpCfg.QuorumM = cfg.QuorumM
	cpCfg.Interval = time.Duration(cfg.CheckpointIntervalMs) * time.Millisecond
	cpCfg.PeerTimeout = cfg.PeerTimeout
	cpCfg.RPCTimeout = cfg.RPCTimeout
	cpEngine, err := checkpoint.NewEngine(cpCfg, eventStore, reg, operatorKey,
		checkpoint.NewHTTPSigner(cfg.PeerTimeout), anchor.NewRecordingSink(), m)
	if err != nil {
		logger.Fatalf("failed to build checkpoint engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cpEngine.Run(ctx)

	// API server.
	api := server.New(engine, cpEngine, reg, &server.Config{
		CommitteeK:           cfg.CommitteeK,
		ActiveSignatureRatio: cfg.ActiveSignatureRatio,
		ActiveInactivityMs:   cfg.ActiveInactivityMs,
		ChainID:              cfg.ChainID,
	})
	apiServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Printf("operator %s serving on %s", cfg.OperatorID, cfg.ListenAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("api server failed: %v", err)
		}
	}()

	// Metrics endpoint.
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
	go func() {
		logger.Printf("metrics on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Printf("shutting down")

	cancel()
	cpEngine.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)
}
