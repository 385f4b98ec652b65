// Package app wires the pipeline stages together and drives one end-to-end
// run: connect sessions, fetch the id window, group, partition, download in
// parallel, hand finished items to the publish side, report and exit.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"

	"tgmirror/internal/config"
	"tgmirror/internal/download"
	"tgmirror/internal/errs"
	"tgmirror/internal/fetch"
	"tgmirror/internal/group"
	"tgmirror/internal/metrics"
	"tgmirror/internal/partition"
	"tgmirror/internal/publish"
	"tgmirror/internal/session"
	"tgmirror/internal/stats"
	"tgmirror/internal/storage"
	"tgmirror/internal/template"
	"tgmirror/internal/upload"
	"tgmirror/pkg/telegoapi"
)

// App bundles the pipeline dependencies.
type App struct {
	cfg       *config.Config
	pool      *session.Pool
	bot       telegoapi.BotAPI
	recorder  *errs.Recorder
	collector *stats.Collector
}

// New validates dependencies and builds the app. bot may be nil when
// publishing is disabled.
func New(cfg *config.Config, pool *session.Pool, bot telegoapi.BotAPI) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is nil")
	}
	if pool == nil {
		return nil, fmt.Errorf("app: session pool is nil")
	}
	if cfg.PublishingEnabled() && bot == nil {
		return nil, fmt.Errorf("app: publishing is enabled but no bot api provided")
	}
	return &App{
		cfg:       cfg,
		pool:      pool,
		bot:       bot,
		recorder:  errs.NewRecorder(),
		collector: stats.NewCollector(),
	}, nil
}

// Run executes the pipeline once and returns the final snapshot for the exit
// ladder.
func (a *App) Run(ctx context.Context) (stats.Snapshot, error) {
	cfg := a.cfg

	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.Start(cfg.MetricsAddr)
		defer metricsSrv.Stop()
	}

	if err := a.pool.Initialize(); err != nil {
		return stats.Snapshot{}, err
	}
	if err := a.pool.StartAll(ctx); err != nil {
		return stats.Snapshot{}, err
	}
	defer a.pool.StopAll(context.Background())

	sessions := a.pool.Sessions()
	a.collector.Track(a.pool.All())
	lead := sessions[0]

	chat, err := lead.Client().GetChat(ctx, cfg.SourceChannel)
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("failed to resolve channel %s: %w", cfg.SourceChannel, err)
	}
	log.Printf("[App] source channel: %s (id %d)", chat.Title, chat.ID)

	// Fetch.
	a.collector.TotalRequested.Store(int64(cfg.EndID - cfg.StartID + 1))
	fetcher := fetch.New(fetch.Config{BatchSize: cfg.FetchBatchSize})
	messages, err := fetcher.Fetch(ctx, sessions, cfg.SourceChannel, cfg.StartID, cfg.EndID)
	if err != nil {
		return a.collector.Snapshot(nil), err
	}
	a.collector.FetchedValid.Store(int64(len(messages)))
	if len(messages) == 0 {
		log.Printf("[App] nothing to process in id range [%d, %d]", cfg.StartID, cfg.EndID)
		return a.collector.Snapshot(nil), nil
	}

	// Group and partition.
	col := group.Build(messages)
	names := make([]string, len(sessions))
	for i, s := range sessions {
		names[i] = s.Name()
	}
	assignments, err := partition.Partition(col, names, partition.Options{
		LargestFirst:    cfg.LargestFirst,
		MinBalanceRatio: cfg.MinBalanceRatio(),
	})
	if err != nil {
		return a.collector.Snapshot(nil), err
	}

	// Publish side, when configured.
	var publisher *publish.Publisher
	var coordinator *upload.Coordinator
	var pubStats stats.PublishStatsFunc
	if cfg.PublishingEnabled() {
		me, meErr := lead.Client().GetMe(ctx)
		if meErr != nil {
			return a.collector.Snapshot(nil), fmt.Errorf("failed to identify account: %w", meErr)
		}
		captionLimit := 1024
		if me.Premium {
			captionLimit = 4096
		}
		publisher, err = publish.New(a.bot, publish.Config{
			ScratchChatID:       cfg.ScratchChatID,
			Targets:             cfg.TargetChannels,
			PreserveStructure:   cfg.PreserveStructure,
			BatchSize:           cfg.StageBatchSize,
			FanoutConcurrency:   cfg.FanoutConcurrency,
			Retries:             cfg.PublishRetries,
			RetryDelay:          cfg.PublishRetryDelay,
			CleanupAfterSuccess: cfg.CleanupAfterSuccess,
			CleanupAfterFailure: cfg.CleanupAfterFailure,
			CaptionLimit:        captionLimit,
			Template: template.Config{
				Mode: template.Mode(cfg.TemplateMode),
				Body: cfg.TemplateBody,
			},
		}, template.NewEngine(), a.recorder)
		if err != nil {
			return a.collector.Snapshot(nil), err
		}
		botUser, botErr := publisher.Self(ctx)
		if botErr != nil {
			return a.collector.Snapshot(nil), botErr
		}
		log.Printf("[App] publishing as @%s to %d target(s)", botUser.Username, len(cfg.TargetChannels))
		publisher.SetExpectedGroupSizes(col.ExpectedGroupSizes())
		publisher.Start(ctx)

		coordinator = upload.New(cfg.UploadQueueSize, cfg.UploadConsumers, func(hctx context.Context, task *upload.Task) error {
			if err := publisher.Publish(hctx, task.Item); err != nil {
				return err
			}
			if sess, ok := a.pool.Find(task.Item.SessionName); ok {
				sess.Counters.Published.Add(1)
			}
			return nil
		})
		coordinator.Start(ctx)

		pubStats = func() (published, failed, dropped int64) {
			published, failed, _, _ = publisher.Stats()
			_, _, dropped, _ = coordinator.Stats()
			return published, failed, dropped
		}
	}

	reporter := stats.NewReporter(a.collector, pubStats)
	reporter.Start(ctx)

	// Download.
	layout := storage.New(cfg.DownloadsDir)
	folder := layout.FolderFor(chat)
	if !cfg.MemoryMode {
		if _, err := layout.EnsureDir(folder); err != nil {
			reporter.Stop()
			return a.collector.Snapshot(pubStats), err
		}
	}

	downloader := download.New(download.Config{
		ThresholdBytes: cfg.DownloadThresholdBytes(),
		MemoryMode:     cfg.MemoryMode,
		OnProgress: func(sessionName string, messageID int, written int64) {
			log.Printf("[Downloader %s] message %d: %s so far", sessionName, messageID, stats.FormatBytes(written))
		},
		OnStrategy: func(raw bool) {
			if raw {
				a.collector.RawDownloads.Add(1)
			} else {
				a.collector.StreamDowns.Add(1)
			}
		},
	}, layout, a.recorder)

	sem := semaphore.NewWeighted(int64(cfg.ConcurrentDownloads))
	var sink download.SinkFunc
	if coordinator != nil {
		sink = func(sctx context.Context, item *download.Item) {
			coordinator.Enqueue(sctx, item)
			metrics.QueueDepth.Set(float64(coordinator.Depth()))
		}
	}

	var wg sync.WaitGroup
	for _, assignment := range assignments {
		sess, ok := a.pool.Find(assignment.Session)
		if !ok {
			log.Printf("[App] session %s vanished before download start", assignment.Session)
			continue
		}
		wg.Add(1)
		go func(sess *session.Session, assignment *partition.Assignment) {
			defer wg.Done()
			if !sess.Acquire() {
				log.Printf("[App] session %s not available for downloads", sess.Name())
				return
			}
			defer sess.Release(true)
			worker := download.NewWorker(downloader, sem)
			worker.Run(ctx, sess, assignment, folder, sink)
		}(sess, assignment)
	}
	wg.Wait()

	// Drain the publish side before reporting.
	if coordinator != nil {
		coordinator.Shutdown()
	}
	if publisher != nil {
		if err := publisher.Flush(context.Background()); err != nil {
			log.Printf("[App] final flush: %v", err)
		}
	}
	reporter.Stop()
	a.recorder.LogSummary()
	return a.collector.LogFinal(pubStats), nil
}
