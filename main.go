// Package main is the entry point for the gauge lifecycle service. It
// loads configuration, wires the persistence, event and security layers
// into the core services, and serves the REST API until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/7D-Solutions/gaugecore/api"
	"github.com/7D-Solutions/gaugecore/assets"
	"github.com/7D-Solutions/gaugecore/audit"
	"github.com/7D-Solutions/gaugecore/auth"
	"github.com/7D-Solutions/gaugecore/bus"
	"github.com/7D-Solutions/gaugecore/calibration"
	"github.com/7D-Solutions/gaugecore/certs"
	"github.com/7D-Solutions/gaugecore/checkout"
	"github.com/7D-Solutions/gaugecore/common"
	"github.com/7D-Solutions/gaugecore/config"
	"github.com/7D-Solutions/gaugecore/db"
	"github.com/7D-Solutions/gaugecore/db/repository"
	"github.com/7D-Solutions/gaugecore/gauge"
	gchttp "github.com/7D-Solutions/gaugecore/http"
	"github.com/7D-Solutions/gaugecore/pairing"
	"github.com/7D-Solutions/gaugecore/queue"
	"github.com/7D-Solutions/gaugecore/security"
	"github.com/7D-Solutions/gaugecore/statemanager"
	"github.com/7D-Solutions/gaugecore/storage"
	"github.com/7D-Solutions/gaugecore/users"
	"github.com/7D-Solutions/gaugecore/version"
)

const serviceName = "gaugecore"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init-config" {
		path := "config.yaml"
		if len(os.Args) > 2 {
			path = os.Args[2]
		}
		if err := config.WriteExampleConfig(path); err != nil {
			common.Logger.WithError(err).Fatal("failed to write example config")
		}
		common.Logger.WithField("path", path).Info("wrote example config")
		return
	}

	cfgFile := os.Getenv("GAUGECORE_CONFIG")
	cfg, err := config.LoadConfig("GAUGECORE", cfgFile)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to load configuration")
	}

	logger := common.NewLogger(common.LoggerConfig{
		Level:   common.LogLevel(cfg.Logging.Level),
		Format:  cfg.Logging.Format,
		Service: serviceName,
		Version: version.GetVersion(),
	})

	pg, err := db.NewPostgresDB(cfg.Database.URL, db.Options{
		MaxConnections: cfg.Database.MaxConnections,
		QueryTimeout:   cfg.Database.QueryTimeout,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pg.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(cfg.Database.URL); err != nil {
			logger.WithError(err).Fatal("schema migration failed")
		}
	}

	repos := repository.NewPostgres(pg)
	eventBus := bus.New(logger)
	gate := auth.NewGate(repos.Users)

	recorder := audit.NewRecorder(pg)
	archiver, err := audit.NewArchiver(pg, cfg.Audit.ArchivePath, cfg.Audit.RetentionDays)
	if err != nil {
		logger.WithError(err).Fatal("failed to open audit archive")
	}
	defer archiver.Close()

	var cache *repository.RedisCache
	if cfg.Redis.Enabled {
		redisURL := fmt.Sprintf("redis://:%s@%s/%d", cfg.Redis.Password, cfg.Redis.Addr, cfg.Redis.DB)
		cache, err = repository.NewRedisCache(redisURL, cfg.Redis.TTL)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to redis")
		}
		defer cache.Close()
		cache.SubscribeInvalidation(eventBus)
	}

	// Daily retention sweep into the bbolt archive. With Redis enabled the
	// operation lock keeps multiple instances from sweeping at once.
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if cache != nil {
					ok, err := cache.AcquireOperationLock(archiveCtx, "audit.archive", time.Hour)
					if err != nil {
						logger.WithError(err).Error("audit archive lock failed")
						continue
					}
					if !ok {
						continue
					}
				}
				if n, err := archiver.Run(archiveCtx); err != nil {
					logger.WithError(err).Error("audit archive sweep failed")
				} else if n > 0 {
					logger.WithField("archived", n).Info("audit entries archived")
				}
				if cache != nil {
					if err := cache.ReleaseOperationLock(archiveCtx, "audit.archive"); err != nil {
						logger.WithError(err).Warn("audit archive lock release failed")
					}
				}
			case <-archiveCtx.Done():
				return
			}
		}
	}()

	jwtSvc := security.NewJWTService(cfg.Security.JWTSecret)

	// Returned thread gauges and calibration standards go through a QC
	// hold before becoming available again.
	qcPolicy := checkout.QCPolicy{
		gauge.EquipmentThreadGauge:         true,
		gauge.EquipmentCalibrationStandard: true,
	}

	// With Redis enabled the hot lookups are served read-through; writes
	// and the bus subscription keep the entries fresh.
	var gaugeRepo repository.GaugeRepository = repos.Gauges
	var certRepo repository.CertificateRepository = repos.Certificates
	if cache != nil {
		gaugeRepo = repository.NewCachedGauges(repos.Gauges, cache)
		certRepo = repository.NewCachedCertificates(repos.Certificates, cache)
	}

	assetSvc := assets.NewService(gaugeRepo, pg, recorder, eventBus, gate)
	pairSvc := pairing.NewManager(gaugeRepo, repos.SetIDs, pg, recorder, eventBus, gate)
	checkoutSvc := checkout.NewEngine(gaugeRepo, repos.Checkouts, pg, recorder, eventBus, gate, qcPolicy)
	calSvc := calibration.NewCoordinator(gaugeRepo, repos.Batches, certRepo, repos.Checkouts, pg, recorder, eventBus, gate)
	certSvc := certs.NewRegistry(gaugeRepo, certRepo, pg, recorder, eventBus, gate)
	userSvc := users.NewService(repos.Users, pg, recorder, gate, jwtSvc, cfg.Security.JWTExpiration)

	if cfg.AMQP.Enabled {
		rabbit, err := queue.NewRabbitMQService(cfg.AMQP)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to rabbitmq")
		}
		defer rabbit.Close()
		queue.Forward(eventBus, rabbit)
	}

	var gateway *storage.Gateway
	if cfg.S3.Bucket != "" {
		gateway, err = storage.NewGateway(context.Background(), cfg.S3)
		if err != nil {
			logger.WithError(err).Fatal("failed to reach certificate bucket")
		}
	}

	states := statemanager.New(statemanager.Config{ServiceName: serviceName})

	serverCfg := gchttp.FromConfig(cfg)
	e := gchttp.NewEchoServer(serverCfg)

	api.SetupRoutes(e, &api.Handlers{
		Assets:      assetSvc,
		Pairing:     pairSvc,
		Checkout:    checkoutSvc,
		Calibration: calSvc,
		Certs:       certSvc,
		Users:       userSvc,
		JWT:         jwtSvc,
		Audit:       recorder,
		Storage:     gateway,
		State:       states,
	}, gchttp.HealthCheckHandler(serviceName, version.GetVersion()))

	go func() {
		if err := gchttp.StartServer(e, serverCfg); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server stopped")
		}
	}()
	logger.WithField("port", serverCfg.Port).Info("gauge lifecycle service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := gchttp.GracefulShutdown(e, serverCfg.ShutdownTimeout); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
