package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/golnet1/majordomo-bridge/internal/catalog"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
	"github.com/golnet1/majordomo-bridge/internal/router"
)

// dispatchTimeout bounds one scheduled dispatch.
const dispatchTimeout = 30 * time.Second

// deviceTaskCategories are tried first when resolving a device task,
// matching the catalog sections switchable devices live in.
var deviceTaskCategories = []string{"свет", "устройства"}

// Dispatcher is the router surface the scheduler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent router.CommandIntent) router.CommandResult
}

// Service fires scheduled tasks through the command router.
type Service struct {
	store      *Store
	dispatcher Dispatcher
	logger     *logging.Logger

	cron *cron.Cron
	wg   sync.WaitGroup
}

// NewService creates the scheduler service around a task store.
func NewService(store *Store, dispatcher Dispatcher, logger *logging.Logger) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger.With("component", "scheduler"),
	}
}

// Store exposes the underlying task store for the pipe tools and panel.
func (s *Service) Store() *Store {
	return s.store
}

// Start begins the per-minute tick. Stop releases it.
func (s *Service) Start() {
	s.cron = cron.New()
	s.cron.AddFunc("* * * * *", func() { //nolint:errcheck // static spec cannot fail
		s.tick(time.Now())
	})
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts the tick and waits for in-flight tasks.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// tick runs every minute and fires tasks matching the wall clock.
func (s *Service) tick(now time.Time) {
	tasks, err := s.store.List()
	if err != nil {
		s.logger.Error("loading schedule", "error", err)
		return
	}

	hhmm := now.Format("15:04")
	day := strings.ToLower(now.Format("Mon"))

	for _, task := range tasks {
		if !task.Enabled || task.Time != hhmm || !task.matchesDay(day) {
			continue
		}

		s.wg.Add(1)
		go func(task Task) {
			defer s.wg.Done()
			s.runTask(task)
		}(task)
	}
}

// runTask dispatches one task and removes it afterwards if one-shot.
// One-shot removal happens on failure too, so a broken task cannot fire
// again every day at the same time.
func (s *Service) runTask(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	intent := router.CommandIntent{
		Channel: "scheduler",
		Action:  router.ActionScript,
		Target:  task.Action.Script,
	}
	if task.Action.Type == "device" {
		intent = router.CommandIntent{
			Channel:       "scheduler",
			Action:        router.ActionWrite,
			Target:        task.Action.Device,
			Value:         stateValue(task.Action.State),
			Kind:          catalog.KindRelay,
			CategoryHints: deviceTaskCategories,
		}
	}

	result := s.dispatcher.Dispatch(ctx, intent)

	log := s.logger.With(
		"task_id", task.ID,
		"description", task.Description,
		"status", string(result.Status),
	)
	if result.Status == router.StatusOK {
		log.Info("scheduled task executed")
	} else {
		log.Error("scheduled task failed", "error", result.Error)
	}

	if task.Once() {
		if err := s.store.Delete(task.ID); err != nil {
			s.logger.Error("removing one-shot task", "task_id", task.ID, "error", err)
			return
		}
		log.Info("one-shot task removed")
	}
}

// stateValue maps the free-form task state to a relay property value.
func stateValue(state string) string {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "1", "on", "вкл", "включи", "включить", "включено":
		return "1"
	default:
		return "0"
	}
}
