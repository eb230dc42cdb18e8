// Package scheduler runs the recurring outbound jobs: the morning
// affirmation and the evening gratitude prompt for every active
// subscriber with a linked WhatsApp number.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/positivitypush/backend/internal/coach"
	"github.com/positivitypush/backend/internal/config"
	"github.com/positivitypush/backend/internal/database"
	"github.com/positivitypush/backend/internal/whatsapp"
)

// Scheduler manages the daily coaching jobs using gocron.
type Scheduler struct {
	scheduler gocron.Scheduler
	cfg       config.SchedulerConfig
	store     database.Store
	engine    coach.Engine
	sender    whatsapp.Sender
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a scheduler with both daily jobs registered but not yet
// running.
func New(cfg config.SchedulerConfig, store database.Store, engine coach.Engine, sender whatsapp.Sender, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gs, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: gs,
		cfg:       cfg,
		store:     store,
		engine:    engine,
		sender:    sender,
		logger:    logger.With("component", "scheduler"),
	}

	jobs := []struct {
		name    string
		cron    string
		compose func(ctx context.Context, sub *database.Subscriber) string
	}{
		{"daily_affirmation", cfg.AffirmationCron, engine.DailyAffirmation},
		{"gratitude_prompt", cfg.GratitudeCron, engine.GratitudePrompt},
	}
	for _, j := range jobs {
		j := j
		_, err := gs.NewJob(
			gocron.CronJob(j.cron, false),
			gocron.NewTask(func() { s.runBroadcast(j.name, j.compose) }),
			gocron.WithName(j.name),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule job %q: %w", j.name, err)
		}
		s.logger.Info("Scheduled job", "job_name", j.name, "cron", j.cron)
	}

	return s, nil
}

// Start begins executing the registered jobs on their cron schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started")
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	s.logger.Info("Scheduler stopped")
	return nil
}

// runBroadcast generates and sends one message per active subscriber.
// A failure for one subscriber is logged and never blocks the rest of
// the run.
func (s *Scheduler) runBroadcast(jobName string, compose func(ctx context.Context, sub *database.Subscriber) string) {
	ctx := context.Background()
	log := s.logger.With("job_name", jobName)
	start := time.Now()
	log.Info("Running scheduled job")

	subs, err := s.store.GetActiveSubscribers(ctx)
	if err != nil {
		log.Error("Failed to load active subscribers", "error", err)
		return
	}

	sent := 0
	for idx := range subs {
		sub := &subs[idx]
		if !sub.WAID.Valid || sub.WAID.String == "" {
			continue
		}

		message := compose(ctx, sub)
		if err := s.sender.SendText(ctx, sub.WAID.String, message); err != nil {
			log.Error("Failed to send scheduled message",
				"subscriber_id", sub.ID,
				"error", err)
			continue
		}
		sent++
	}

	log.Info("Finished scheduled job",
		"subscribers", len(subs),
		"sent", sent,
		"duration", time.Since(start))
}
