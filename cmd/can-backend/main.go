// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/canmaster/can-backend/internal/admin"
	"github.com/canmaster/can-backend/internal/canbus"
	"github.com/canmaster/can-backend/internal/codec"
	"github.com/canmaster/can-backend/internal/config"
	"github.com/canmaster/can-backend/internal/configwriter"
	"github.com/canmaster/can-backend/internal/definitions"
	"github.com/canmaster/can-backend/internal/engine"
	"github.com/canmaster/can-backend/internal/gateway"
	"github.com/canmaster/can-backend/internal/interview"
	"github.com/canmaster/can-backend/internal/inventory"
	"github.com/canmaster/can-backend/internal/repository"
	"github.com/canmaster/can-backend/internal/scheduler"
	"github.com/canmaster/can-backend/pkg/log"
	"github.com/canmaster/can-backend/pkg/nats"
	"github.com/canmaster/can-backend/pkg/runtimeEnv"
	"github.com/go-co-op/gocron/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cliInit()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	log.SetLogLevel(flagLogLevel)
	log.SetLogDateTime(flagLogDateTime)

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatal(err)
	}

	if flagGenToken != "" {
		printToken(flagGenToken)
		return
	}

	if err := repository.MigrateDB(config.Keys.DB); err != nil {
		log.Fatalf("migrating %s failed: %s", config.Keys.DB, err.Error())
	}
	repository.Connect(config.Keys.DB)

	invRepo := repository.GetInventoryRepository()
	histRepo := repository.GetHistoryRepository()
	auditRepo := repository.GetAuditRepository()
	commentRepo := repository.GetCommentRepository()
	defRepo := repository.GetDefinitionRepository()

	store := hydrateStore(invRepo)

	defs := definitions.New()
	if err := defs.Load(config.Keys.DefinitionsCSV, defRepo); err != nil {
		log.Fatalf("loading %s failed: %s", config.Keys.DefinitionsCSV, err.Error())
	}

	reg := prometheus.NewRegistry()
	metrics := admin.NewMetrics(reg)

	bus, err := canbus.NewSocketCANPort(config.Keys.CanInterface, config.Keys.SendRateLimit, config.Keys.SendBurst)
	if err != nil {
		log.Fatalf("opening %s failed: %s", config.Keys.CanInterface, err.Error())
	}

	gw := gateway.New(store, defs, auditRepo, commentRepo, []byte(config.Keys.JwtSecret), config.Keys.AuditLogPageSize, metrics)
	im := interview.NewMachine(store, invRepo, histRepo)
	cw := configwriter.NewWriter(store, invRepo, histRepo, auditRepo)

	masterNodeId, err := codec.DecodeNodeIdHex(config.Keys.MasterNodeId)
	if err != nil {
		log.Fatalf("master-node-id %q invalid: %s", config.Keys.MasterNodeId, err.Error())
	}
	hk := scheduler.New(
		time.Duration(config.Keys.MaxReqIntroSeconds)*time.Second,
		time.Duration(config.Keys.SendTsIntervalSeconds)*time.Second,
		masterNodeId,
	)

	mirror := buildMirror()

	e := engine.New(store, bus, gw, im, cw, hk, defs, commentRepo, metrics, mirror)

	gocronScheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("starting job scheduler failed: %s", err.Error())
	}
	if err := registerRetentionJob(gocronScheduler, histRepo); err != nil {
		log.Fatalf("registering retention job failed: %s", err.Error())
	}
	gocronScheduler.Start()

	gatewaySrv := &http.Server{
		Addr:         config.Keys.GatewayAddr,
		Handler:      gw,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
	}
	adminSrv := admin.NewServer(config.Keys.AdminAddr, store, reg)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.Run(ctx); err != nil {
			log.Errorf("engine: stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("operator gateway listening at %s", config.Keys.GatewayAddr)
		if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("gateway server: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("admin surface listening at %s", config.Keys.AdminAddr)
		if err := adminSrv.Run(ctx); err != nil {
			log.Errorf("admin server: %v", err)
		}
	}()

	if err := runtimeEnv.DropPrivileges(config.Keys.User, config.Keys.Group); err != nil {
		log.Fatalf("error while changing user: %s", err.Error())
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	runtimeEnv.SystemdNotifiy(false, "shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	gatewaySrv.Shutdown(shutdownCtx)
	shutdownCancel()
	gocronScheduler.Shutdown()

	wg.Wait()
	log.Print("graceful shutdown completed")
}

// hydrateStore loads every persisted node into a fresh Store so the
// engine task starts with the last known inventory rather than an
// empty map, in case of a restart mid-operation.
func hydrateStore(invRepo *repository.InventoryRepository) *inventory.Store {
	store := inventory.New()
	nodes, err := invRepo.ListNodes()
	if err != nil {
		log.Errorf("loading persisted inventory failed: %s", err.Error())
		return store
	}
	for _, n := range nodes {
		store.Put(n)
	}
	log.Infof("hydrated inventory store with %d nodes", len(nodes))
	return store
}

// buildMirror connects the optional NATS broadcast mirror. A zero
// Address in config.Keys.NatsMirror skips the connection entirely.
func buildMirror() engine.Mirror {
	if config.Keys.NatsMirror.Address == "" {
		return nil
	}
	client, err := nats.NewClient(&nats.NatsConfig{
		Address:       config.Keys.NatsMirror.Address,
		Username:      config.Keys.NatsMirror.Username,
		Password:      config.Keys.NatsMirror.Password,
		CredsFilePath: config.Keys.NatsMirror.CredsFilePath,
	})
	if err != nil {
		log.Warnf("nats mirror: connect to %s failed, mirroring disabled: %s", config.Keys.NatsMirror.Address, err.Error())
		return nil
	}
	return client
}

// registerRetentionJob wires the supplemental history retention job
// per config.Keys.HistoryRetention. A "keep" policy (the default)
// still registers the job; RetentionJob.run is a no-op in that case.
func registerRetentionJob(s gocron.Scheduler, histRepo *repository.HistoryRepository) error {
	var archiver scheduler.HistoryArchiver
	if config.Keys.HistoryRetention == "archive" {
		a, err := scheduler.NewS3Archiver(config.Keys.S3Archive)
		if err != nil {
			return err
		}
		archiver = a
	}

	maxAge := 90 * 24 * time.Hour
	if config.Keys.S3Archive.RetentionMaxAge != "" {
		d, err := time.ParseDuration(config.Keys.S3Archive.RetentionMaxAge)
		if err != nil {
			return fmt.Errorf("history-retention max-age %q invalid: %w", config.Keys.S3Archive.RetentionMaxAge, err)
		}
		maxAge = d
	}

	job := scheduler.NewRetentionJob(histRepo, config.Keys.HistoryRetention, maxAge, archiver)
	return job.Register(s)
}

func printToken(actor string) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"actor": actor})
	signed, err := tok.SignedString([]byte(config.Keys.JwtSecret))
	if err != nil {
		log.Fatalf("signing token failed: %s", err.Error())
	}
	fmt.Printf("bearer token for %q: %s\n", actor, signed)
}
