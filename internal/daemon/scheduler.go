package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/buildmesh/internal/builder"
	"git.home.luguber.info/inful/buildmesh/internal/config"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/note"
)

const scheduledBuildTag = "scheduled-build"

// Scheduler wraps a gocron scheduler that issues periodic build requests
// into the mesh.
type Scheduler struct {
	scheduler gocron.Scheduler
	target    builder.Builder
	logger    *slog.Logger
}

// NewScheduler returns a stopped scheduler submitting requests to target.
func NewScheduler(target builder.Builder, logger *slog.Logger, opts ...gocron.SchedulerOption) (*Scheduler, error) {
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{scheduler: s, target: target, logger: logger}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// Apply replaces every scheduled build with schedules.
func (s *Scheduler) Apply(schedules []config.Schedule) error {
	s.scheduler.RemoveByTags(scheduledBuildTag)
	for _, sched := range schedules {
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(sched.Every.Std()),
			gocron.NewTask(s.requestBuild, sched),
			gocron.WithName(fmt.Sprintf("build-%s-%s", sched.Project, sched.Version)),
			gocron.WithTags(scheduledBuildTag),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule build of %s: %w", sched.Project, err)
		}
	}
	return nil
}

// Every runs fn every interval under name. Apply does not touch it.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s job: %w", name, err)
	}
	return nil
}

// Builds returns the number of scheduled builds.
func (s *Scheduler) Builds() int {
	n := 0
	for _, j := range s.scheduler.Jobs() {
		for _, tag := range j.Tags() {
			if tag == scheduledBuildTag {
				n++
				break
			}
		}
	}
	return n
}

// RunNow triggers every scheduled build immediately.
func (s *Scheduler) RunNow() error {
	for _, j := range s.scheduler.Jobs() {
		for _, tag := range j.Tags() {
			if tag != scheduledBuildTag {
				continue
			}
			if err := j.RunNow(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) requestBuild(sched config.Schedule) {
	req := s.target.Build(context.Background(), note.BuildRequest{
		Project:  sched.Project,
		Version:  sched.Version,
		TestPath: sched.TestPath,
	})
	s.logger.Info("Scheduled build requested",
		logfields.RequestID(req.ID),
		logfields.Project(req.Project),
		logfields.Version(req.Version))
}
