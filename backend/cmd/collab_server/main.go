package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"workspaceCollab/backend/config"
	"workspaceCollab/backend/internal/cache"
	"workspaceCollab/backend/internal/collab"
	"workspaceCollab/backend/internal/httpapi/handlers"
	"workspaceCollab/backend/internal/httpapi/middleware"
	"workspaceCollab/backend/internal/store"
	"workspaceCollab/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: port=%d redis=%v kafka=%v topic=%s", cfg.Running.Port, cfg.Redis.Addrs, cfg.Kafka.Brokers, cfg.Kafka.Topic)

	// 多个地址时是集群客户端，一个地址时是单机客户端
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

	// === Kafka Producer（没配 broker 时只转发、不归档）===
	var producer sarama.SyncProducer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		kafkaCfg.Producer.Partitioner = sarama.NewHashPartitioner
		producer, err = sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()
	}

	presenceCache := cache.NewRedisPresence(rdb)
	hub := ws.NewHub(presenceCache, cfg.Collab.PresenceTTL)
	documentStore := store.NewDocumentStore(db)
	versionCache := cache.NewVersionCache(rdb, documentStore)

	dispatcher := collab.NewKafkaDispatcher(
		producer,
		cfg.Kafka.Topic,
		collab.NewSemaphoreControl(collab.DefaultSemaphore),
		collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)
	defer dispatcher.Close()

	manager := ws.NewManager(hub, dispatcher, ws.ManagerOptions{
		SendBuffer:     cfg.Collab.SendBuffer,
		AllowedOrigins: cfg.Collab.AllowedOrigins,
	})
	documentHandler := handlers.NewDocumentHandler(versionCache)
	presenceHandler := handlers.NewPresenceHandler(presenceCache, hub)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	corsCfg := cors.DefaultConfig()
	if len(cfg.Collab.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Collab.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	g := r.Group("/collab")
	g.GET("/healthz", handlers.Healthz)
	// 鉴权：Authorization 或 ?token=，写入 userId/username/avatar
	authed := g.Group("", middleware.AuthMiddleware([]byte(cfg.Auth.Secret)))
	authed.GET("/ws", manager.WebSocketConnect)
	authed.GET("/workspaces/:workspaceId/presence", presenceHandler.GetPresence)
	authed.GET("/documents/:documentId/version", documentHandler.GetVersion)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("collab server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// websocket 连接是 hijack 出去的，Shutdown 不会等它们；进程退出时一并断开
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
