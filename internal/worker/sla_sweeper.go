package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/observability"
	"github.com/spec-kit/itsm-sla/internal/repository"
	"github.com/spec-kit/itsm-sla/internal/sla"
)

const sweepLockKey = "itsm-sla:sweeper:lock"

// releaseLock deletes the lock only while this instance still owns it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// SweeperDependencies bundles collaborators of the sweeper.
type SweeperDependencies struct {
	Tickets   repository.TicketRepository
	Registry  *sla.Registry
	Trigger   *sla.Trigger
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Schedule  string
	BatchSize int
	LockTTL   time.Duration
	// ClosedLag is subtracted from the closed-since watermark on every read.
	ClosedLag time.Duration
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Skipped    bool
	Attached   int
	Completed  int
	Evaluation sla.EvaluationReport
}

// SLASweeper is the periodic evaluation tick. Each run attaches timers to tickets that
// missed them, completes timers of tickets closed since the last run and evaluates
// escalations. Only one instance runs a tick when redis is available.
type SLASweeper struct {
	tickets   repository.TicketRepository
	registry  *sla.Registry
	trigger   *sla.Trigger
	redis     *redis.Client
	metrics   *observability.Metrics
	logger    *zap.Logger
	schedule  string
	batchSize int
	lockTTL   time.Duration
	closedLag time.Duration

	mu        sync.Mutex
	watermark time.Time
}

// NewSLASweeper constructs the sweeper.
func NewSLASweeper(deps SweeperDependencies) *SLASweeper {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule := deps.Schedule
	if schedule == "" {
		schedule = "@every 60s"
	}
	lockTTL := deps.LockTTL
	if lockTTL <= 0 {
		lockTTL = 50 * time.Second
	}
	closedLag := deps.ClosedLag
	if closedLag <= 0 {
		closedLag = 2 * time.Minute
	}
	return &SLASweeper{
		tickets:   deps.Tickets,
		registry:  deps.Registry,
		trigger:   deps.Trigger,
		redis:     deps.Redis,
		metrics:   deps.Metrics,
		logger:    logger,
		schedule:  schedule,
		batchSize: deps.BatchSize,
		lockTTL:   lockTTL,
		closedLag: closedLag,
	}
}

// Run schedules the sweep and blocks until ctx is cancelled.
func (s *SLASweeper) Run(ctx context.Context) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(s.schedule)
	if err != nil {
		return fmt.Errorf("parse sla evaluation schedule %q: %w", s.schedule, err)
	}

	engine := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	engine.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("sla sweep failed", zap.Error(err))
		}
	}))
	engine.Start()
	s.logger.Info("sla sweeper started", zap.String("schedule", s.schedule))

	<-ctx.Done()
	stopped := engine.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for sla sweep to finish")
	}
	return nil
}

// RunOnce performs a single sweep.
func (s *SLASweeper) RunOnce(ctx context.Context) (report SweepReport, err error) {
	started := time.Now()
	defer func() {
		if !report.Skipped {
			s.metrics.SweepFinished(time.Since(started), err)
		}
	}()

	release, acquired := s.acquire(ctx)
	if !acquired {
		report.Skipped = true
		return report, nil
	}
	defer release()

	if report.Attached, err = s.attachPending(ctx); err != nil {
		return report, err
	}
	if report.Completed, err = s.completeClosed(ctx); err != nil {
		return report, err
	}
	if report.Evaluation, err = s.trigger.EvaluateAll(ctx); err != nil {
		return report, err
	}

	s.logger.Info("sla sweep finished",
		zap.Int("attached", report.Attached),
		zap.Int("completed", report.Completed),
		zap.Int("candidates", report.Evaluation.Candidates),
		zap.Int("escalated", report.Evaluation.Escalated),
		zap.Int("failed", report.Evaluation.Failed),
		zap.Duration("duration", time.Since(started)))
	return report, nil
}

func (s *SLASweeper) attachPending(ctx context.Context) (int, error) {
	pending, err := s.tickets.ListPendingSLA(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list tickets pending sla: %w", err)
	}
	attached := 0
	for i := range pending {
		ticket := &pending[i]
		if _, err := s.registry.CreateTimersForTicket(ctx, ticket); err != nil {
			s.logger.Warn("attach sla timers", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		if err := s.tickets.MarkSLAAttached(ctx, ticket.ID, s.registry.Now()); err != nil {
			s.logger.Warn("mark sla attached", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		attached++
	}
	return attached, nil
}

func (s *SLASweeper) completeClosed(ctx context.Context) (int, error) {
	s.mu.Lock()
	watermark := s.watermark
	s.mu.Unlock()

	// Closures inside the lag window are read again; completing them twice is a no-op.
	cursor := watermark
	if !cursor.IsZero() {
		cursor = cursor.Add(-s.closedLag)
	}
	completed := 0
	next := watermark
	for {
		closed, err := s.tickets.ListClosedSince(ctx, cursor, s.batchSize)
		if err != nil {
			return completed, fmt.Errorf("list closed tickets: %w", err)
		}
		last := cursor
		failed := false
		for _, ticket := range closed {
			timers, err := s.registry.CompleteTimersForTicket(ctx, ticket.ID)
			if err != nil {
				s.logger.Warn("complete timers of closed ticket", zap.String("ticket_id", ticket.ID), zap.Error(err))
				// retried next run from this ticket on
				failed = true
				break
			}
			completed += len(timers)
			if ticket.ClosedAt != nil && ticket.ClosedAt.After(last) {
				last = *ticket.ClosedAt
			}
		}
		if last.After(next) {
			next = last
		}
		if failed || len(closed) < s.pageSize() || !last.After(cursor) {
			break
		}
		cursor = last
	}

	s.mu.Lock()
	if next.After(s.watermark) {
		s.watermark = next
	}
	s.mu.Unlock()
	return completed, nil
}

func (s *SLASweeper) pageSize() int {
	if s.batchSize <= 0 {
		return 100
	}
	return s.batchSize
}

// acquire takes the cluster-wide sweep lock. Without redis, or when redis cannot be
// reached, the sweep runs unguarded; escalation itself is still conditional in the store.
func (s *SLASweeper) acquire(ctx context.Context) (func(), bool) {
	if s.redis == nil {
		return func() {}, true
	}
	token := uuid.NewString()
	ok, err := s.redis.SetNX(ctx, sweepLockKey, token, s.lockTTL).Result()
	if err != nil {
		s.logger.Warn("sweeper lock unavailable; running unguarded", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		s.logger.Debug("sla sweep held by another instance")
		return nil, false
	}
	return func() {
		if err := releaseLock.Run(context.WithoutCancel(ctx), s.redis, []string{sweepLockKey}, token).Err(); err != nil {
			s.logger.Warn("release sweeper lock", zap.Error(err))
		}
	}, true
}
