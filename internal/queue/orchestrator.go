package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/ceres-media/ceres/pkg/logger"
)

var log = logger.Get("Queue")

var (
	// ErrAlreadyScheduled is returned when a task with the same idempotency
	// key is already queued or running.
	ErrAlreadyScheduled = errors.New("an equivalent task is already scheduled")

	// ErrNotScheduled is returned by cancellation when no task with the
	// given key exists.
	ErrNotScheduled = errors.New("no such task is scheduled")
)

const (
	scanTimeout   = 6 * time.Hour
	scrapeTimeout = 5 * time.Minute

	scanRetention   = time.Hour
	scrapeRetention = 24 * time.Hour

	// Scrapes are attempted up to three times, backing off exponentially
	// from five seconds.
	scrapeMaxRetry       = 2
	scrapeRetryBaseDelay = 5 * time.Second
)

// QueueConfig holds the connection details for the Redis instance backing
// the task queues.
type QueueConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"database" env:"REDIS_DATABASE" env-default:"0"`
}

func (config QueueConfig) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     config.Host + ":" + config.Port,
		Password: config.Password,
		DB:       config.DB,
	}
}

type (
	ScanHandler             func(ctx context.Context, request LibraryScanRequest) error
	MediaScrapeHandler      func(ctx context.Context, request MediaScrapeRequest) error
	CollectionScrapeHandler func(ctx context.Context, request CollectionScrapeRequest) error

	// Orchestrator owns the task client and the three queue servers. Each
	// queue runs on its own single-worker server so scans never compete with
	// scrapes, and a burst of scrape jobs cannot starve collection scrapes
	// waiting on their parents.
	Orchestrator struct {
		client    *asynq.Client
		inspector *asynq.Inspector

		scanServer       *asynq.Server
		scrapeServer     *asynq.Server
		collectionServer *asynq.Server

		scanMux       *asynq.ServeMux
		scrapeMux     *asynq.ServeMux
		collectionMux *asynq.ServeMux

		validate *validator.Validate
	}
)

func New(config QueueConfig) *Orchestrator {
	redisOpt := config.redisOpt()
	asynqLog := &asynqLogger{log}

	retryDelay := func(n int, _ error, _ *asynq.Task) time.Duration {
		return scrapeRetryBaseDelay << n
	}

	scanServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{QueueScan: 1},
		Logger:      asynqLog,
		LogLevel:    asynq.WarnLevel,
	})
	scrapeServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    1,
		Queues:         map[string]int{QueueMetadataScrape: 1},
		RetryDelayFunc: retryDelay,
		Logger:         asynqLog,
		LogLevel:       asynq.WarnLevel,
	})
	collectionServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    1,
		Queues:         map[string]int{QueueCollectionScrape: 1},
		RetryDelayFunc: retryDelay,
		Logger:         asynqLog,
		LogLevel:       asynq.WarnLevel,
	})

	// Each scrape queue carries its own limiter; sharing one would let a
	// burst on either queue starve the other of provider request slots.
	scrapeMux := asynq.NewServeMux()
	scrapeMux.Use(rateLimit(rate.NewLimiter(rate.Every(time.Second), 10)))
	collectionMux := asynq.NewServeMux()
	collectionMux.Use(rateLimit(rate.NewLimiter(rate.Every(time.Second), 10)))

	return &Orchestrator{
		client:           asynq.NewClient(redisOpt),
		inspector:        asynq.NewInspector(redisOpt),
		scanServer:       scanServer,
		scrapeServer:     scrapeServer,
		collectionServer: collectionServer,
		scanMux:          asynq.NewServeMux(),
		scrapeMux:        scrapeMux,
		collectionMux:    collectionMux,
		validate:         validator.New(),
	}
}

// RegisterScanHandler installs the function invoked for library scan tasks.
func (orchestrator *Orchestrator) RegisterScanHandler(handler ScanHandler) {
	orchestrator.scanMux.HandleFunc(TaskLibraryScan, func(ctx context.Context, task *asynq.Task) error {
		var request LibraryScanRequest
		if err := orchestrator.decode(task, &request); err != nil {
			return err
		}
		return classifyFailure(handler(ctx, request))
	})
}

// RegisterMediaScrapeHandler installs the function invoked for media
// metadata scrape tasks.
func (orchestrator *Orchestrator) RegisterMediaScrapeHandler(handler MediaScrapeHandler) {
	orchestrator.scrapeMux.HandleFunc(TaskMediaScrape, func(ctx context.Context, task *asynq.Task) error {
		var request MediaScrapeRequest
		if err := orchestrator.decode(task, &request); err != nil {
			return err
		}
		return classifyFailure(handler(ctx, request))
	})
}

// RegisterCollectionScrapeHandler installs the function invoked for
// collection metadata scrape tasks.
func (orchestrator *Orchestrator) RegisterCollectionScrapeHandler(handler CollectionScrapeHandler) {
	orchestrator.collectionMux.HandleFunc(TaskCollectionScrape, func(ctx context.Context, task *asynq.Task) error {
		var request CollectionScrapeRequest
		if err := orchestrator.decode(task, &request); err != nil {
			return err
		}
		return classifyFailure(handler(ctx, request))
	})
}

// Run starts the three queue servers and blocks until the context is
// cancelled, at which point all servers are drained and shut down.
func (orchestrator *Orchestrator) Run(ctx context.Context) error {
	if err := orchestrator.scanServer.Start(orchestrator.scanMux); err != nil {
		return fmt.Errorf("failed to start scan queue server: %w", err)
	}
	if err := orchestrator.scrapeServer.Start(orchestrator.scrapeMux); err != nil {
		orchestrator.scanServer.Shutdown()
		return fmt.Errorf("failed to start metadata scrape queue server: %w", err)
	}
	if err := orchestrator.collectionServer.Start(orchestrator.collectionMux); err != nil {
		orchestrator.scanServer.Shutdown()
		orchestrator.scrapeServer.Shutdown()
		return fmt.Errorf("failed to start collection scrape queue server: %w", err)
	}

	<-ctx.Done()
	log.Emit(logger.STOP, "Shutting down queue servers...\n")
	orchestrator.scanServer.Shutdown()
	orchestrator.scrapeServer.Shutdown()
	orchestrator.collectionServer.Shutdown()
	orchestrator.client.Close()
	orchestrator.inspector.Close()
	return nil
}

// ScheduleScan enqueues a scan of the given library. A library only ever has
// one scan queued or running; asking again while one is outstanding returns
// ErrAlreadyScheduled. The record of a finished scan is cleared first so
// libraries can be rescanned.
func (orchestrator *Orchestrator) ScheduleScan(ctx context.Context, libraryID uuid.UUID, forced bool) error {
	taskID := ScanTaskID(libraryID)
	if info, err := orchestrator.inspector.GetTaskInfo(QueueScan, taskID); err == nil {
		if isOutstanding(info.State) {
			return ErrAlreadyScheduled
		}
		if err := orchestrator.inspector.DeleteTask(QueueScan, taskID); err != nil {
			return fmt.Errorf("failed to clear finished scan task for library %s: %w", libraryID, err)
		}
	}

	return orchestrator.enqueue(ctx, TaskLibraryScan, LibraryScanRequest{LibraryID: libraryID, Forced: forced},
		asynq.Queue(QueueScan),
		asynq.TaskID(taskID),
		asynq.MaxRetry(0),
		asynq.Timeout(scanTimeout),
		asynq.Retention(scanRetention),
	)
}

// CancelScan cancels the scan queued or running for the given library. A
// pending task is deleted outright; a running one is signalled through its
// context so the walker can stop at the next directory boundary.
func (orchestrator *Orchestrator) CancelScan(libraryID uuid.UUID) error {
	taskID := ScanTaskID(libraryID)
	info, err := orchestrator.inspector.GetTaskInfo(QueueScan, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return ErrNotScheduled
		}
		return fmt.Errorf("failed to inspect scan task for library %s: %w", libraryID, err)
	}

	if info.State == asynq.TaskStateActive {
		return orchestrator.inspector.CancelProcessing(taskID)
	}
	return orchestrator.inspector.DeleteTask(QueueScan, taskID)
}

// ScheduleMediaScrapeIfAbsent enqueues a metadata scrape for a media item
// unless one is already outstanding for the same item, in which case the
// request collapses on to the existing task.
func (orchestrator *Orchestrator) ScheduleMediaScrapeIfAbsent(ctx context.Context, request MediaScrapeRequest) error {
	err := orchestrator.enqueue(ctx, TaskMediaScrape, request, scrapeOpts(MediaScrapeTaskID(request.MediaID))...)
	if errors.Is(err, ErrAlreadyScheduled) {
		log.Debugf("Scrape for media %s collapsed on to existing task\n", request.MediaID)
		return nil
	}
	return err
}

// ScheduleMediaScrapeForced enqueues a metadata scrape for a media item
// under a timestamped key, so the refresh is accepted even while a scrape
// for the same item is already queued or running.
func (orchestrator *Orchestrator) ScheduleMediaScrapeForced(ctx context.Context, request MediaScrapeRequest) error {
	return orchestrator.enqueue(ctx, TaskMediaScrape, request, scrapeOpts(ForcedMediaScrapeTaskID(request.MediaID, time.Now()))...)
}

// ScheduleCollectionScrape enqueues a metadata scrape for a collection.
// Collection scrapes never deduplicate; the delay lets dependent scrapes
// (seasons, albums) wait for their parents to resolve first.
func (orchestrator *Orchestrator) ScheduleCollectionScrape(ctx context.Context, request CollectionScrapeRequest, delay time.Duration) error {
	opts := []asynq.Option{
		asynq.Queue(QueueCollectionScrape),
		asynq.TaskID(CollectionScrapeTaskID(request.CollectionID, time.Now())),
		asynq.MaxRetry(scrapeMaxRetry),
		asynq.Timeout(scrapeTimeout),
		asynq.Retention(scrapeRetention),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return orchestrator.enqueue(ctx, TaskCollectionScrape, request, opts...)
}

func scrapeOpts(taskID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueMetadataScrape),
		asynq.TaskID(taskID),
		asynq.MaxRetry(scrapeMaxRetry),
		asynq.Timeout(scrapeTimeout),
		asynq.Retention(scrapeRetention),
	}
}

func (orchestrator *Orchestrator) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}

	info, err := orchestrator.client.EnqueueContext(ctx, asynq.NewTask(taskType, raw), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return ErrAlreadyScheduled
		}
		return fmt.Errorf("failed to enqueue %s task: %w", taskType, err)
	}

	log.Debugf("Enqueued %s task %s on queue %s\n", taskType, info.ID, info.Queue)
	return nil
}

// decode unmarshals and validates a task payload. Failures are marked
// non-retryable as a payload does not become well-formed by waiting.
func (orchestrator *Orchestrator) decode(task *asynq.Task, payload interface{}) error {
	if err := json.Unmarshal(task.Payload(), payload); err != nil {
		return fmt.Errorf("malformed %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	if err := orchestrator.validate.Struct(payload); err != nil {
		return fmt.Errorf("invalid %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func isOutstanding(state asynq.TaskState) bool {
	switch state {
	case asynq.TaskStateActive, asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return true
	default:
		return false
	}
}

// classifyFailure maps handler errors on to the queue's retry machinery:
// errors which declare themselves permanent will not be retried.
func classifyFailure(err error) error {
	if err == nil {
		return nil
	}
	var permanent interface{ Permanent() bool }
	if errors.As(err, &permanent) && permanent.Permanent() {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// rateLimit holds each task on the queue until the limiter grants a slot,
// capping how fast the workers can hit upstream metadata APIs.
func rateLimit(limiter *rate.Limiter) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			return next.ProcessTask(ctx, task)
		})
	}
}

// asynqLogger adapts the application logger to asynq's logging interface.
type asynqLogger struct{ log logger.Logger }

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debugf("%s\n", fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Infof("%s\n", fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warnf("%s\n", fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Errorf("%s\n", fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatalf("%s\n", fmt.Sprint(args...)) }
