package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fulfillment/internal/pkg/bootstrap"
	"fulfillment/internal/pkg/config"
	"fulfillment/internal/pkg/httpclient"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/saga/application"
	"fulfillment/internal/saga/domain/port"
	"fulfillment/internal/saga/infrastructure"
	"fulfillment/internal/saga/infrastructure/adapter"
	"fulfillment/internal/saga/interfaces"
)

// main is the composition root: it builds every dependency and hands the
// assembled service to bootstrap.
func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init(cfg.Service.Name, cfg.Service.LogLevel)

	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		TranslateError: true, // CreateIfAbsent depends on gorm.ErrDuplicatedKey
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mysql")
	}
	if err := db.AutoMigrate(&infrastructure.TransactionModel{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate transaction ledger")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})

	tracer := otel.Tracer(cfg.Service.Name)
	httpClient := httpclient.NewClient(tracer)

	steps := []port.SagaStep{
		adapter.NewClientRegistrationAdapter(httpClient, cfg.CRM.URL),
		adapter.NewWarehouseAdapter(tracer, cfg.WMS.Addr, cfg.WMS.Timeout.Std()),
		adapter.NewRouteOptimizationAdapter(httpClient, cfg.ROS.URL, cfg.ROS.APIKey),
	}

	repo := infrastructure.NewGormTransactionRepository(db)
	guard := infrastructure.NewRedisInflightGuard(redisClient, cfg.Saga.InflightTTL.Std())
	publisher := infrastructure.NewOutcomeProducerAdapter(mq.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.OutcomeTopic))

	orchestrator := application.NewOrchestrator(steps, repo, publisher, tracer)
	svc := application.NewFulfillmentService(repo, guard, orchestrator, tracer, cfg.Saga.ProcessingTimeout.Std())

	reader := mq.NewReader(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.OrderTopic)
	consumer := infrastructure.NewOrderConsumerAdapter(reader, svc, int64(cfg.Saga.WorkerPoolSize))

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumer.Start(consumerCtx)

	opsHandler := interfaces.NewOpsHandler(repo)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:    cfg.Service.Name,
		Port:           cfg.Service.Port,
		JaegerEndpoint: cfg.Service.JaegerEndpoint,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
			opsHandler.Register(appCtx.Mux)
		},
		OnShutdown: []func(ctx context.Context) error{
			func(ctx context.Context) error {
				stopConsumer()
				return consumer.Stop(ctx)
			},
			func(ctx context.Context) error { return publisher.Close() },
			func(ctx context.Context) error { return redisClient.Close() },
		},
	})
}
