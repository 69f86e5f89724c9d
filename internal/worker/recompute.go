package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/club-ranklist/internal/config"
	"github.com/club-ranklist/internal/service"
)

// Recomputer rewrites stored member scores
type Recomputer interface {
	RecomputeAll(ctx context.Context) (service.RecomputeSummary, error)
}

// RecomputeWorker periodically recomputes the stored score of every ranklist member
type RecomputeWorker struct {
	recomputer Recomputer
	config     *config.RecomputeConfig
	logger     *slog.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
	mu         sync.Mutex
	running    bool
}

// NewRecomputeWorker creates a new recompute worker
func NewRecomputeWorker(recomputer Recomputer, cfg *config.RecomputeConfig, logger *slog.Logger) *RecomputeWorker {
	return &RecomputeWorker{
		recomputer: recomputer,
		config:     cfg,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the background recompute loop
func (w *RecomputeWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("recompute worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background recompute loop
func (w *RecomputeWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("recompute worker stopped")
	return nil
}

func (w *RecomputeWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single recompute cycle
func (w *RecomputeWorker) RunOnce(ctx context.Context) service.RecomputeSummary {
	w.logger.Info("starting recompute cycle")
	startTime := time.Now()

	summary, err := w.recomputer.RecomputeAll(ctx)
	if err != nil {
		w.logger.Error("recompute cycle failed", "error", err)
		return summary
	}

	if summary.Mismatches > 0 {
		w.logger.Warn("stored scores include solves shown as strict-attendance absences",
			"cells", summary.Mismatches,
		)
	}

	w.logger.Info("recompute cycle completed",
		"duration", time.Since(startTime),
		"ranklists", summary.RankLists,
		"members", summary.Members,
		"errors", summary.Failed,
	)
	return summary
}

// IsRunning returns whether the worker is currently running
func (w *RecomputeWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
