package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"liscraper/pkg/config"
	"liscraper/pkg/logger"
	"liscraper/pkg/notify"
	"liscraper/pkg/orchestrator"
	"liscraper/pkg/ratelimit"
	"liscraper/pkg/scrape"
	"liscraper/pkg/storage"
	"liscraper/pkg/task"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to config file (default: search standard locations)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return err
	}
	log := logger.GetLogger()
	logger.LogComponentStart("liscraperd", map[string]interface{}{
		"storage_driver": cfg.Storage.Driver,
	})

	store, err := storage.Open(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := notify.New()

	throttle := ratelimit.New(ratelimit.Config{
		MaxRequestsPerHour: cfg.RateLimit.MaxRequestsPerHour,
		MinDelay:           cfg.RateLimit.MinDelay,
		MaxDelay:           cfg.RateLimit.MaxDelay,
		MaxQueueSize:       cfg.RateLimit.MaxQueueSize,
		Logger:             log,
	})

	archive, err := scrape.NewArchive(cfg.Scrape.SnapshotDir)
	if err != nil {
		return err
	}
	client := scrape.NewClient(throttle, cfg.Scrape.UserAgent, cfg.Scrape.FetchTimeout, log)

	orch, err := orchestrator.New(orchestrator.Options{
		Config:   cfg.Orchestrator,
		Handlers: scrape.Handlers(client, archive, log),
		Store:    store,
		Bus:      bus,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	if cfg.Notifications.Enabled {
		go logEvents(ctx, bus, &cfg.Notifications, log)
	}

	scheduler := startSchedules(cfg.Schedules, orch, log)
	if scheduler != nil {
		defer scheduler.Stop()
	}

	// Re-tune the throttle when the config file changes on disk.
	if cfgPath != "" {
		watcher := config.NewWatcher(cfgPath,
			func(updated *config.Config) {
				throttle.SetLimits(
					updated.RateLimit.MaxRequestsPerHour,
					updated.RateLimit.MinDelay,
					updated.RateLimit.MaxDelay,
				)
				log.InfoWithFields("Rate limits reloaded from config", map[string]interface{}{
					"max_requests_per_hour": updated.RateLimit.MaxRequestsPerHour,
				})
			},
			func(err error) {
				log.WithError(err).Warn("Config reload failed, keeping previous settings")
			},
		)
		if err := watcher.Run(ctx); err != nil {
			log.WithError(err).Warn("Config watcher unavailable")
		}
	}

	orch.Start()
	log.Info("liscraperd running")

	<-ctx.Done()
	logger.LogComponentStop("liscraperd", "signal received")
	return nil
}

// startSchedules registers the configured recurring submissions. Invalid
// entries are logged and skipped; they must not block startup.
func startSchedules(schedules []config.ScheduleConfig, orch *orchestrator.Orchestrator, log logger.Logger) *cron.Cron {
	if len(schedules) == 0 {
		return nil
	}

	c := cron.New()
	registered := 0
	for _, s := range schedules {
		s := s

		taskType := task.Type(s.Type)
		priority := task.Priority(s.Priority)
		if priority == "" {
			priority = task.PriorityLow
		}
		if !priority.Valid() {
			log.WarnWithFields("Skipping schedule with invalid priority", map[string]interface{}{
				"type":     s.Type,
				"priority": s.Priority,
			})
			continue
		}

		var params json.RawMessage
		if s.Params != nil {
			raw, err := json.Marshal(s.Params)
			if err != nil {
				log.WithError(err).WarnWithFields("Skipping schedule with unencodable params", map[string]interface{}{
					"type": s.Type,
				})
				continue
			}
			params = raw
		}

		_, err := c.AddFunc(s.Cron, func() {
			id, err := orch.Enqueue(orchestrator.Submission{
				Type:     taskType,
				Priority: priority,
				Params:   params,
			})
			if err != nil {
				log.WithError(err).WarnWithFields("Scheduled submission rejected", map[string]interface{}{
					"type": string(taskType),
				})
				return
			}
			log.InfoWithFields("Scheduled task submitted", map[string]interface{}{
				"task_id": id,
				"type":    string(taskType),
			})
		})
		if err != nil {
			log.WithError(err).WarnWithFields("Skipping schedule with invalid cron expression", map[string]interface{}{
				"cron": s.Cron,
				"type": s.Type,
			})
			continue
		}
		registered++
	}

	if registered == 0 {
		return nil
	}
	c.Start()
	log.InfoWithFields("Recurring schedules started", map[string]interface{}{
		"count": registered,
	})
	return c
}

// logEvents drains orchestrator notifications and renders them as log lines,
// honoring the per-kind notification preferences.
func logEvents(ctx context.Context, bus notify.Bus, prefs *config.NotificationConfig, log logger.Logger) {
	events, unsub := bus.Subscribe(prefs.BufferSize)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case notify.EventTaskCompleted:
				if !prefs.OnComplete {
					continue
				}
				data := e.Data.(notify.TaskCompleted)
				log.InfoWithFields("Scrape finished", map[string]interface{}{
					"task_id":   data.TaskID,
					"task_type": data.TaskType,
				})
			case notify.EventTaskFailed:
				if !prefs.OnError {
					continue
				}
				data := e.Data.(notify.TaskFailed)
				log.ErrorWithFields("Scrape failed", map[string]interface{}{
					"task_id": data.TaskID,
					"error":   data.Error,
				})
			case notify.EventTaskProgress:
				if !prefs.OnProgress {
					continue
				}
				data := e.Data.(notify.TaskProgress)
				log.InfoWithFields("Scrape progress", map[string]interface{}{
					"task_id": data.TaskID,
					"current": data.Current,
					"total":   data.Total,
					"status":  data.Status,
				})
			}
		}
	}
}
