package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/club-ranklist/internal/domain"
	"github.com/club-ranklist/internal/metrics"
	"github.com/google/uuid"
)

// IngestService stores solve stats and attendance produced by the platform pollers
type IngestService struct {
	store    Store
	cache    RankingCache
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewIngestService creates a new ingest service. cache, notifier and m may be nil.
func NewIngestService(store Store, cache RankingCache, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *IngestService {
	return &IngestService{
		store:    store,
		cache:    cache,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// SetNotifier sets the live update notifier
func (s *IngestService) SetNotifier(n Notifier) {
	s.notifier = n
}

// IngestBatch validates and upserts a batch of records. Malformed records and records
// naming an unknown user or event are skipped and counted as rejected; a storage failure
// fails the whole batch.
func (s *IngestService) IngestBatch(ctx context.Context, batch domain.IngestBatch) (domain.IngestSummary, error) {
	summary := domain.IngestSummary{BatchID: uuid.NewString()}

	valid := make([]domain.StatRecord, 0, len(batch.Records))
	for _, rec := range batch.Records {
		if err := rec.Validate(); err != nil {
			s.reject(&summary, rec, "malformed record")
			continue
		}
		valid = append(valid, rec)
	}

	users, events, err := s.knownCatalog(ctx, valid)
	if err != nil {
		return summary, err
	}

	var stats []domain.SolveStat
	var attendances []domain.Attendance
	statIndex := make(map[domain.StatKey]int)
	touched := make(map[int64]struct{})

	for _, rec := range valid {
		if !users[rec.UserID] || !events[rec.EventID] {
			s.reject(&summary, rec, "unknown user or event")
			continue
		}
		touched[rec.EventID] = struct{}{}

		switch rec.Kind {
		case domain.RecordKindSolveStat:
			stat := rec.SolveStat()
			// Later records for the same pair win; a batch must not upsert one row twice.
			if i, ok := statIndex[stat.Key()]; ok {
				stats[i] = stat
				continue
			}
			statIndex[stat.Key()] = len(stats)
			stats = append(stats, stat)
		case domain.RecordKindAttendance:
			attendances = append(attendances, rec.Attendance())
		}
	}

	if err := s.store.UpsertSolveStats(ctx, stats); err != nil {
		return summary, fmt.Errorf("storing solve stats: %w", err)
	}
	if err := s.store.UpsertAttendances(ctx, attendances); err != nil {
		return summary, fmt.Errorf("storing attendances: %w", err)
	}
	summary.SolveStats = len(stats)
	summary.Attendances = len(attendances)

	s.metrics.RecordIngested(domain.RecordKindSolveStat, "accepted", summary.SolveStats)
	s.metrics.RecordIngested(domain.RecordKindAttendance, "accepted", summary.Attendances)
	s.metrics.RecordIngested("any", "rejected", summary.Rejected)

	s.refreshRankLists(ctx, touched)

	s.logger.Debug("ingested stat batch",
		"batch_id", summary.BatchID,
		"solve_stats", summary.SolveStats,
		"attendances", summary.Attendances,
		"rejected", summary.Rejected,
	)
	return summary, nil
}

func (s *IngestService) reject(summary *domain.IngestSummary, rec domain.StatRecord, reason string) {
	s.logger.Warn("rejecting stat record",
		"batch_id", summary.BatchID,
		"reason", reason,
		"kind", rec.Kind,
		"user_id", rec.UserID,
		"event_id", rec.EventID,
	)
	summary.Rejected++
}

// knownCatalog looks up which of the referenced users and events exist
func (s *IngestService) knownCatalog(ctx context.Context, records []domain.StatRecord) (map[int64]bool, map[int64]bool, error) {
	if len(records) == 0 {
		return nil, nil, nil
	}

	userSet := make(map[int64]struct{})
	eventSet := make(map[int64]struct{})
	for _, rec := range records {
		userSet[rec.UserID] = struct{}{}
		eventSet[rec.EventID] = struct{}{}
	}

	users, err := s.store.ExistingUserIDs(ctx, keys(userSet))
	if err != nil {
		return nil, nil, fmt.Errorf("looking up users: %w", err)
	}
	events, err := s.store.ExistingEventIDs(ctx, keys(eventSet))
	if err != nil {
		return nil, nil, fmt.Errorf("looking up events: %w", err)
	}
	return users, events, nil
}

func keys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// refreshRankLists drops cached rankings that show any of the touched events
func (s *IngestService) refreshRankLists(ctx context.Context, eventSet map[int64]struct{}) {
	if len(eventSet) == 0 {
		return
	}
	rankListIDs, err := s.store.RankListsForEvents(ctx, keys(eventSet))
	if err != nil {
		s.logger.Warn("failed to resolve ranklists for ingested events", "error", err)
		return
	}

	if s.cache != nil && len(rankListIDs) > 0 {
		if err := s.cache.Invalidate(ctx, rankListIDs...); err != nil {
			s.logger.Warn("failed to invalidate cached rankings", "ranklist_ids", rankListIDs, "error", err)
		}
	}
	if s.notifier != nil {
		for _, id := range rankListIDs {
			s.notifier.BroadcastRankListUpdate(id, ReasonIngest)
		}
	}
}
