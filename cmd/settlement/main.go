package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joripage/darkpool-engine/config"
	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"github.com/joripage/darkpool-engine/pkg/engine/repo"
	kafkawrapper "github.com/joripage/darkpool-engine/pkg/infra/kafka"
	postgres_wrapper "github.com/joripage/darkpool-engine/pkg/infra/postgres"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// The settlement worker drains the match topic and walks each match through
// its settlement lifecycle against the store.
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	db, err := postgres_wrapper.InitPostgresWithBackoff(cfg.EngineDB)
	if err != nil {
		zap.S().Errorf("init db fail with err: %v", err)
		panic(err)
	}
	store := repo.NewRepo(db)

	cg, err := kafkawrapper.NewConsumerGroup(kafkawrapper.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		GroupID:    cfg.Kafka.ConsumerGroupID,
		Topic:      cfg.Kafka.SettlementTopic,
		DLQTopic:   cfg.Kafka.DLQTopic,
		AutoCommit: true,
		MaxRetries: 3,
	})
	if err != nil {
		panic(err)
	}
	defer cg.Close() // nolint

	go func() {
		err := cg.Run(ctx, func(ctx context.Context, msgs []kafkawrapper.Message) error {
			for _, msg := range msgs {
				if err := settleOne(ctx, store, msg.Value); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil && err != context.Canceled {
			zap.S().Errorf("consumer stopped with err: %v", err)
		}
	}()

	zap.S().Infof("%s settlement worker started", cfg.ServiceName)

	<-sigs
	zap.S().Info("shutting down...")
	cancel()
}

func settleOne(ctx context.Context, store repo.IRepo, value []byte) error {
	var event model.Match
	if err := json.Unmarshal(value, &event); err != nil {
		zap.S().Warnf("drop malformed settlement event: %v", err)
		return nil
	}

	m, err := store.Match().GetByID(ctx, event.ID)
	if err != nil {
		if err == repo.ErrNotFound {
			zap.S().Warnf("settlement event for unknown match %s", event.ID)
			return nil
		}
		return err
	}
	// replayed event, already past PENDING
	if m.SettlementStatus != model.SettlementStatusPending {
		return nil
	}

	if err := m.TransitionSettlement(model.SettlementStatusSettling); err != nil {
		return err
	}
	if err := store.Match().UpdateSettlement(ctx, m, model.SettlementStatusPending); err != nil {
		return err
	}

	if err := m.TransitionSettlement(model.SettlementStatusSettled); err != nil {
		return err
	}
	if err := store.Match().UpdateSettlement(ctx, m, model.SettlementStatusSettling); err != nil {
		return err
	}

	zap.S().Infow("match settled", "match_id", m.ID, "pair", m.Pair(), "quantity", m.Quantity, "price", m.Price)
	return nil
}
