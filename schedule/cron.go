package schedule

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner invokes the recurring jobs (reminder tick, broken-streak check,
// weekly activity sweep, session sweep) on their cadences. Every job runs
// as an independent short-lived unit of work: panics are contained at the
// job boundary, overlapping invocations of the same job are skipped, and a
// redis lock extends the non-overlap guarantee across process instances.
type Runner struct {
	cron *cron.Cron
	rdb  *redis.Client
	log  *zap.SugaredLogger
}

// NewRunner creates a runner with minute-granularity cron parsing.
func NewRunner(rdb *redis.Client, log *zap.SugaredLogger) *Runner {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	return &Runner{cron: c, rdb: rdb, log: log}
}

// Register schedules a named job. lockTTL bounds how long the cross-process
// lock is held if the process dies mid-run; it should comfortably exceed
// the job's worst-case runtime.
func (r *Runner) Register(name, spec string, lockTTL time.Duration, fn func(context.Context) error) error {
	_, err := r.cron.AddFunc(spec, func() {
		r.runOne(name, lockTTL, fn)
	})
	return err
}

// Start begins scheduling in its own goroutine.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Runner) runOne(name string, lockTTL time.Duration, fn func(context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("job %s panicked: %v", name, rec)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), lockTTL)
	defer cancel()

	if !r.acquireLock(ctx, name, lockTTL) {
		r.log.Debugf("job %s skipped, lock held elsewhere", name)
		return
	}
	defer r.releaseLock(name)

	start := time.Now()
	if err := fn(ctx); err != nil {
		r.log.Errorf("job %s failed after %v: %v", name, time.Since(start), err)
		return
	}
	r.log.Debugf("job %s finished in %v", name, time.Since(start))
}

// acquireLock takes the cross-process job lock. When redis is unreachable
// the job still runs: single-process deployments rely on SkipIfStillRunning
// alone, and the storage-level idempotency key backstops duplicates.
func (r *Runner) acquireLock(ctx context.Context, name string, ttl time.Duration) bool {
	if r.rdb == nil {
		return true
	}
	ok, err := r.rdb.SetNX(ctx, lockKey(name), "1", ttl).Result()
	if err != nil {
		r.log.Warnf("job %s lock check failed, proceeding: %v", name, err)
		return true
	}
	return ok
}

func (r *Runner) releaseLock(name string) {
	if r.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.Del(ctx, lockKey(name)).Err(); err != nil {
		r.log.Warnf("job %s lock release failed: %v", name, err)
	}
}

func lockKey(name string) string {
	return "job:lock:" + name
}
