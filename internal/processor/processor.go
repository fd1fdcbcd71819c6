package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rewardsys/rewards-core/internal/queue"
	"github.com/rewardsys/rewards-core/pkg/logger"
	"github.com/rewardsys/rewards-core/pkg/prom"
	"github.com/rewardsys/rewards-core/pkg/redis"
	"github.com/rewardsys/rewards-core/pkg/worker"
)

const ProcessingTimeout = time.Second * 5
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// Processor handles messages from one queue.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

// Registration binds a processor to the queue it consumes, with the
// number of consumer instances to run against that queue.
type Registration struct {
	Processor   Processor
	QueueConfig queue.QueueConfig
	Consumers   int
}

// ProcessorService runs the registered processors against their queues
// through a shared worker pool.
type ProcessorService struct {
	adapter       redis.RedisAdapter
	registrations []Registration
	queues        []*queue.Queue
	metrics       *ServiceMetrics
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	worker        *worker.WorkerManager
}

func NewProcessorService(redis redis.RedisAdapter) (*ProcessorService, error) {
	ctx, cancel := context.WithCancel(context.Background())
	service := &ProcessorService{
		adapter: redis,
		queues:  make([]*queue.Queue, 0),
		metrics: NewServiceMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		worker:  worker.NewWorkerManager(10_000, 100, nil),
	}
	return service, nil
}

// Register adds a processor for the given queue. Must be called before
// Start.
func (s *ProcessorService) Register(reg Registration) {
	if reg.Consumers <= 0 {
		reg.Consumers = 1
	}
	s.registrations = append(s.registrations, reg)
	logger.Info("Registered processor", "type", reg.Processor.GetType(), "queue", reg.QueueConfig.Name, "consumers", reg.Consumers)
}

// Start starts the processor service
func (s *ProcessorService) Start() error {
	logger.Info("Starting Processor Service...")

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Error("Worker manager stopped", "error", err)
		}
	}()

	for _, reg := range s.registrations {
		for i := 0; i < reg.Consumers; i++ {
			queueConfig := reg.QueueConfig
			queueConfig.ConsumerName = fmt.Sprintf("%s-%s-%d", queueConfig.ConsumerName, reg.Processor.GetType(), i)

			q, err := queue.NewQueue(s.adapter, queueConfig)
			if err != nil {
				return fmt.Errorf("failed to create %s queue %d: %w", reg.Processor.GetType(), i, err)
			}

			// Messages get bridged into the shared worker pool
			if err := q.Consume(s.messageHandler(reg.Processor)); err != nil {
				return fmt.Errorf("failed to start %s consumer %d: %w", reg.Processor.GetType(), i, err)
			}

			s.queues = append(s.queues, q)
		}
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Processor Service started", "consumers", len(s.queues), "workers", 100)
	return nil
}

// metricsReporter periodically reports metrics
func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.GetStats()

	logger.Info("Metrics",
		"total_processed", stats["total_processed"],
		"total_failed", stats["total_failed"],
		"rate_per_second", stats["rate_per_second"],
		"avg_duration_ms", stats["avg_duration_ms"],
		"uptime_seconds", stats["uptime_seconds"])

	for i, q := range s.queues {
		if qStats, err := q.GetStats(); err == nil {
			logger.Info("Queue stats", "queue", i, "total", qStats.TotalMessages, "pending", qStats.PendingMessages)
			prom.SetGaugeVec(prom.SystemQueue, prom.MetricQueuePending, float64(qStats.PendingMessages), qStats.Name)
		}
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck() {
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return
	}

	for i, q := range s.queues {
		stats, err := q.GetStats()
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: Queue stats unavailable", "queue", i, "error", err)
			continue
		}

		if stats.PendingMessages > 10000 {
			logger.Warn("HEALTH CHECK WARNING: Queue has high lag", "queue", i, "pending_messages", stats.PendingMessages)
		}
	}

	logger.Info("HEALTH CHECK: OK - Service healthy")
}

// Stop gracefully stops the service
func (s *ProcessorService) Stop() {
	logger.Info("Shutting down Processor Service...")

	s.cancel()

	timeout := ShutdownTimeout
	stopChan := make(chan bool, len(s.queues))

	for i, q := range s.queues {
		go func(index int, queue *queue.Queue) {
			if err := queue.Stop(timeout); err != nil {
				logger.Error("Error stopping queue", "queue", index, "error", err)
			}
			stopChan <- true
		}(i, q)
	}

	for range s.queues {
		select {
		case <-stopChan:
		case <-time.After(timeout + 5*time.Second):
			logger.Warn("Timeout waiting for queues to stop")
		}
	}

	s.worker.Exit()
	s.wg.Wait()
	s.reportMetrics()

	logger.Info("Processor Service stopped")
}

type jobResult struct {
	msg        *queue.Message
	processor  Processor
	resultChan chan error
	ctx        context.Context
}

// messageHandler builds the queue handler that bridges messages into
// the worker pool and blocks until the worker reports the outcome.
func (s *ProcessorService) messageHandler(processor Processor) queue.MessageHandler {
	return func(ctx context.Context, msg *queue.Message) error {
		resultChan := make(chan error, 1)

		msgCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
		defer cancel()

		job := &jobResult{
			msg:        msg,
			processor:  processor,
			resultChan: resultChan,
			ctx:        msgCtx,
		}

		s.worker.Enqueue(job)

		select {
		case err := <-resultChan:
			return err
		case <-msgCtx.Done():
			return fmt.Errorf("timeout waiting for worker to process message: %w", msgCtx.Err())
		}
	}
}

// workerHandler processes messages in worker pool
func (s *ProcessorService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	msg := jobRes.msg
	start := time.Now()
	var resultErr error

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("Job context cancelled before processing started", "worker", workerIndex)
		return
	default:
	}

	if err := jobRes.processor.Process(jobRes.ctx, msg); err != nil {
		s.metrics.RecordFailure()
		logger.Error("Failed to process message", "worker", workerIndex, "type", jobRes.processor.GetType(), "error", err)
		resultErr = err
	} else {
		duration := time.Since(start)
		s.metrics.RecordSuccess(duration)
		resultErr = nil
	}

	// If messageHandler timed out there is no receiver anymore
	select {
	case jobRes.resultChan <- resultErr:
	case <-jobRes.ctx.Done():
		logger.Warn("Context cancelled while sending result, message handler timed out", "worker", workerIndex)
	}
}
