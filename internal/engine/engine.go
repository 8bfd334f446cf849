// Package engine contains the scheduling and execution core: the dispatcher
// that scans and claims due queue items, the executor that turns a claimed
// item into a delivered email, and the stop paths that halt enrollments on
// replies, unsubscribes, and bounces.
package engine

import (
	"time"

	"github.com/outboundlab/sequencer/internal/observability"
	"github.com/outboundlab/sequencer/internal/personalize"
	"github.com/outboundlab/sequencer/internal/repository"
	"github.com/outboundlab/sequencer/internal/sender"
	"github.com/outboundlab/sequencer/internal/sendlimit"
	"github.com/outboundlab/sequencer/internal/template"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultScanInterval = 30 * time.Second
	defaultBatchSize    = 100
	defaultWorkers      = 4
	defaultSendTimeout  = 30 * time.Second
	minWorkers          = 1
)

// Engine wires the sequencing core together. All collaborators are injected;
// nil logger, metrics, tracker, and generator are tolerated.
type Engine struct {
	campaigns    repository.CampaignRepository
	leads        repository.LeadRepository
	enrollments  repository.EnrollmentRepository
	queue        repository.QueueRepository
	events       repository.EventRepository
	suppressions repository.SuppressionRepository

	sender    sender.Sender
	limiter   sendlimit.DailyLimiter
	tracker   *template.Tracker
	generator personalize.Generator
	evaluator *ConditionEvaluator

	retry       RetryPolicy
	sendLimiter *rate.Limiter
	logger      *zap.Logger
	metrics     *observability.Metrics

	interval    time.Duration
	batchSize   int
	workers     int
	sendTimeout time.Duration
	now         func() time.Time
}

// Options tunes the dispatch loop. Zero values fall back to defaults.
type Options struct {
	ScanInterval time.Duration
	BatchSize    int
	Workers      int
	Retry        RetryPolicy
	SendRate     rate.Limit
	SendTimeout  time.Duration
	Tracker      *template.Tracker
	Generator    personalize.Generator
	Metrics      *observability.Metrics
}

func New(
	campaigns repository.CampaignRepository,
	leads repository.LeadRepository,
	enrollments repository.EnrollmentRepository,
	queue repository.QueueRepository,
	events repository.EventRepository,
	suppressions repository.SuppressionRepository,
	emailSender sender.Sender,
	limiter sendlimit.DailyLimiter,
	opts Options,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = sendlimit.NopLimiter{}
	}

	interval := opts.ScanInterval
	if interval <= 0 {
		interval = defaultScanInterval
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	workers := opts.Workers
	if workers < minWorkers {
		workers = defaultWorkers
	}

	retry := opts.Retry
	if retry.MaxRetries <= 0 && retry.BaseDelay <= 0 {
		retry = DefaultRetryPolicy()
	}

	var sendLimiter *rate.Limiter
	if opts.SendRate > 0 {
		sendLimiter = rate.NewLimiter(opts.SendRate, 1)
	}

	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	return &Engine{
		campaigns:    campaigns,
		leads:        leads,
		enrollments:  enrollments,
		queue:        queue,
		events:       events,
		suppressions: suppressions,
		sender:       emailSender,
		limiter:      limiter,
		tracker:      opts.Tracker,
		generator:    opts.Generator,
		evaluator:    NewConditionEvaluator(events),
		retry:        retry,
		sendLimiter:  sendLimiter,
		logger:       logger,
		metrics:      opts.Metrics,
		interval:     interval,
		batchSize:    batchSize,
		workers:      workers,
		sendTimeout:  sendTimeout,
		now:          time.Now,
	}
}
