package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"workspaceCollab/backend/config"
	"workspaceCollab/backend/internal/cache"
	"workspaceCollab/backend/internal/collab"
	"workspaceCollab/backend/internal/store"
)

// change_archiver 消费 hub 转发的 document_change 事件，写入 MySQL 并刷新版本缓存。
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatalf("kafka.brokers is empty")
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate failed: %v", err)
	}
	documentStore := store.NewDocumentStore(db)
	versionCache := cache.NewVersionCache(rdb, documentStore)

	kafkaCfg := sarama.NewConfig()
	kafkaCfg.Consumer.Return.Errors = true
	kafkaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	group, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.Group, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to create consumer group: %v", err)
	}
	defer group.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archiver := collab.NewArchiver(documentStore, versionCache)
	log.Printf("change archiver consuming topic=%s group=%s", cfg.Kafka.Topic, cfg.Kafka.Group)
	if err := archiver.Run(ctx, group, []string{cfg.Kafka.Topic}); err != nil {
		log.Printf("archiver stopped: %v", err)
	}
}
