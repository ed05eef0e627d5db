package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/api"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/config"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/database"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/juror"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/live"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/logging"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/metrics"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// clientRuntime is the assembled client stack for one command invocation.
type clientRuntime struct {
	config      config.ClientConfig
	logger      *zap.Logger
	registry    *prometheus.Registry
	coordinator *juror.Coordinator
	closers     []func()
}

func (r *clientRuntime) Close() {
	r.coordinator.Close()
	r.closeAll()
}

// newRuntime wires config, storage, transport and the coordinator. The live channel is only
// attached when withLive is set and enabled in config.
func newRuntime(withLive bool) (*clientRuntime, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(appConfig.LoggerOptions("juror"))
	if err != nil {
		return nil, err
	}
	built := &clientRuntime{config: appConfig, logger: logger, registry: prometheus.NewRegistry()}

	store, err := built.openStore()
	if err != nil {
		built.closeAll()
		return nil, err
	}

	client, err := api.NewClient(api.Config{
		BaseURL: appConfig.APIBaseURL,
		Timeout: appConfig.APITimeout,
		Logger:  logger.Named("api"),
	})
	if err != nil {
		built.closeAll()
		return nil, err
	}

	collectors := metrics.New(built.registry)
	manager, err := session.NewManager(session.ManagerConfig{
		Store:   store,
		API:     client,
		Logger:  logger.Named("session"),
		Metrics: collectors,
	})
	if err != nil {
		built.closeAll()
		return nil, err
	}

	var channel juror.LiveChannel
	if withLive && appConfig.LiveEnabled {
		channel = live.NewClient(live.Config{
			BaseURL:          client.BaseURL(),
			HandshakeTimeout: appConfig.HandshakeTimeout,
			WriteTimeout:     appConfig.WriteTimeout,
			Logger:           logger.Named("live"),
		})
	}

	coordinator, err := juror.New(juror.Config{
		Sessions:       manager,
		API:            client,
		Live:           channel,
		ReconnectDelay: appConfig.ReconnectDelay,
		Logger:         logger.Named("coordinator"),
		Metrics:        collectors,
	})
	if err != nil {
		built.closeAll()
		return nil, err
	}
	built.coordinator = coordinator
	return built, nil
}

func (r *clientRuntime) openStore() (session.Store, error) {
	switch r.config.SessionBackend {
	case config.SessionBackendMemory:
		return session.NewMemoryStore(), nil

	case config.SessionBackendRedis:
		options, err := redis.ParseURL(r.config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(options)
		r.closers = append(r.closers, func() { _ = client.Close() })
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return session.NewRedisStore(client, r.config.RedisKey)

	default:
		db, err := database.OpenSQLite(r.config.SQLitePath, r.logger)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() { _ = sqlDB.Close() })
		return session.NewGormStore(db)
	}
}

func (r *clientRuntime) closeAll() {
	for index := len(r.closers) - 1; index >= 0; index-- {
		r.closers[index]()
	}
	_ = r.logger.Sync()
}
