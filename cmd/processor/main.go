package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rewardsys/rewards-core/internal/config"
	"github.com/rewardsys/rewards-core/internal/notifier"
	"github.com/rewardsys/rewards-core/internal/processor"
	"github.com/rewardsys/rewards-core/internal/queue"
	"github.com/rewardsys/rewards-core/internal/repository"
	"github.com/rewardsys/rewards-core/internal/services"
	"github.com/rewardsys/rewards-core/pkg/logger"
	"github.com/rewardsys/rewards-core/pkg/pg"
	"github.com/rewardsys/rewards-core/pkg/prom"
	"github.com/rewardsys/rewards-core/pkg/redis"
)

func main() {
	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter(config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: config.Get().AppName,
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	notifierClient, err := notifier.NewClient(&notifier.Config{
		Gateways: []notifier.GatewayConfig{
			{Name: "primary", URL: config.Get().GatewayPrimaryURL, Weight: 100},
			{Name: "secondary", URL: config.Get().GatewaySecondaryURL, Weight: 80},
			{Name: "backup", URL: config.Get().GatewayBackupURL, Weight: 60},
		},
		Timeout:                 time.Second * 5,
		MaxRetries:              3,
		RetryDelay:              time.Millisecond * 100,
		MaxConns:                1000,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	})
	if err != nil {
		logger.Error("failed to create notifier client", "error", err)
		return
	}

	var subs processor.SubscriptionChecker
	if url := config.Get().SubscriptionCheckerURL; url != "" {
		subs = notifier.NewSubscriptionClient(url, time.Second*5)
	}

	userRepo := repository.NewUserRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	chequeRepo := repository.NewChequeRepository(db)
	activationRepo := repository.NewActivationRepository(db)
	mailingRepo := repository.NewMailingRepository(db)

	ledger := services.NewLedgerService(db, userRepo, transactionRepo)

	idempotencyService := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())

	service, err := processor.NewProcessorService(redisAdap)
	if err != nil {
		logger.Error("failed to create the processor service", "error", err)
		return
	}

	service.Register(processor.Registration{
		Processor:   processor.NewActivationProcessor(db, ledger, chequeRepo, activationRepo, subs, idempotencyService),
		QueueConfig: queueConfig(config.Get().ActivationQueueName),
		Consumers:   10,
	})
	service.Register(processor.Registration{
		Processor:   processor.NewMailingProcessor(mailingRepo, notifierClient),
		QueueConfig: queueConfig(config.Get().MailingQueueName),
		Consumers:   4,
	})

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServe(config.Get().PromListenAddr, config.Get().PromMetricsPath)
	}()

	go func() {
		if err := service.Start(); err != nil {
			logger.Error("failed to start processor", "error", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	service.Stop()
	_ = notifierClient.Close()
}

func queueConfig(name string) queue.QueueConfig {
	return queue.QueueConfig{
		Name:              name,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
