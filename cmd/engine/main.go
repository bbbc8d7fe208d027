package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joripage/darkpool-engine/config"
	"github.com/joripage/darkpool-engine/pkg/engine"
	fixgw "github.com/joripage/darkpool-engine/pkg/engine/fix"
	"github.com/joripage/darkpool-engine/pkg/engine/repo"
	postgres_wrapper "github.com/joripage/darkpool-engine/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/darkpool-engine/pkg/infra/redis"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() // nolint
	zap.ReplaceGlobals(logger)

	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	go func() {
		http.ListenAndServe("localhost:6060", nil) // nolint
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// init db
	db, err := postgres_wrapper.InitPostgresWithBackoff(cfg.EngineDB)
	if err != nil {
		zap.S().Errorf("init db fail with err: %v", err)
		panic(err)
	}

	engineCfg := engine.Config{}
	if cfg.Engine != nil {
		engineCfg = engine.Config{
			Workers:       cfg.Engine.Workers,
			QueueSize:     cfg.Engine.QueueSize,
			DefaultDepth:  cfg.Engine.DefaultDepth,
			SweepInterval: cfg.Engine.SweepInterval,
			StreamBuffer:  cfg.Engine.StreamBuffer,
		}
	}

	eng := engine.New(engineCfg, repo.NewRepo(db))

	if cfg.Redis != nil {
		redisClient, err := redis_wrapper.InitRedis(cfg.Redis)
		if err != nil {
			zap.S().Errorf("init redis fail with err: %v", err)
			panic(err)
		}
		var prefix string
		var ttl time.Duration
		if cfg.Engine != nil {
			prefix = cfg.Engine.DepthCachePrefix
			ttl = cfg.Engine.DepthCacheTTL
		}
		eng.SetDepthCache(engine.NewRedisDepthCache(redisClient, prefix, ttl))
	}

	if producer := cfg.NewKafkaProducer(); producer != nil {
		defer producer.Close(context.Background()) // nolint
		eng.SetMatchForwarder(engine.NewKafkaForwarder(producer, cfg.Kafka.SettlementTopic))
	}

	eng.Start(ctx)

	var fixServer *fixgw.Server
	if cfg.Fix != nil && cfg.Fix.SettingsFile != "" {
		fixServer = fixgw.NewServer(eng)
		if err := fixServer.Init(cfg.Fix.SettingsFile); err != nil {
			panic(err)
		}
		if err := fixServer.Start(); err != nil {
			panic(err)
		}
	}

	zap.S().Infof("%s started", cfg.ServiceName)

	<-sigs
	zap.S().Info("shutting down...")

	if fixServer != nil {
		fixServer.Stop() // nolint
	}
	eng.Stop()
	cancel()

	zap.S().Info("exited cleanly")
}
