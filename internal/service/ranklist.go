package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/club-ranklist/internal/domain"
	"github.com/club-ranklist/internal/metrics"
)

// Store is the relational storage the ranklist service reads and writes
type Store interface {
	GetRankList(ctx context.Context, rankListID int64) (*domain.RankList, error)
	ListRankLists(ctx context.Context) ([]domain.RankList, error)
	GetRankListEvents(ctx context.Context, rankListID int64) ([]domain.RankListEvent, error)
	GetMembers(ctx context.Context, rankListID int64) ([]domain.Member, error)
	GetSolveStats(ctx context.Context, userIDs, eventIDs []int64) ([]domain.SolveStat, error)
	GetAttendances(ctx context.Context, userIDs, eventIDs []int64) ([]domain.Attendance, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	AddMember(ctx context.Context, userID, rankListID int64) (bool, error)
	RemoveMember(ctx context.Context, userID, rankListID int64) (bool, error)
	UpdateMemberScores(ctx context.Context, rankListID int64, scores map[int64]float64) error
	UpsertSolveStats(ctx context.Context, stats []domain.SolveStat) error
	UpsertAttendances(ctx context.Context, attendances []domain.Attendance) error
	RankListsForEvents(ctx context.Context, eventIDs []int64) ([]int64, error)
	ExistingUserIDs(ctx context.Context, userIDs []int64) (map[int64]bool, error)
	ExistingEventIDs(ctx context.Context, eventIDs []int64) (map[int64]bool, error)
}

// RankingCache caches rendered rankings per ranklist
type RankingCache interface {
	GetRanking(ctx context.Context, rankListID int64) (*domain.RankingData, bool, error)
	SetRanking(ctx context.Context, data *domain.RankingData) error
	Invalidate(ctx context.Context, rankListIDs ...int64) error
}

// Notifier pushes ranklist change notifications to live subscribers
type Notifier interface {
	BroadcastRankListUpdate(rankListID int64, reason string)
}

// Update reasons sent to subscribers
const (
	ReasonJoin      = "join"
	ReasonLeave     = "leave"
	ReasonRecompute = "recompute"
	ReasonIngest    = "ingest"
)

// RankListService provides ranking, history and membership operations
type RankListService struct {
	store    Store
	cache    RankingCache
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRankListService creates a new ranklist service. cache, notifier and m may be nil.
func NewRankListService(store Store, cache RankingCache, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *RankListService {
	return &RankListService{
		store:    store,
		cache:    cache,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// SetNotifier sets the live update notifier
func (s *RankListService) SetNotifier(n Notifier) {
	s.notifier = n
}

// ListRankLists returns all ranklists
func (s *RankListService) ListRankLists(ctx context.Context) ([]domain.RankList, error) {
	rankLists, err := s.store.ListRankLists(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ranklists: %w", err)
	}
	if rankLists == nil {
		rankLists = []domain.RankList{}
	}
	return rankLists, nil
}

// GetRankingData returns the ranked grid of a ranklist, served from cache when possible
func (s *RankListService) GetRankingData(ctx context.Context, rankListID int64) (*domain.RankingData, error) {
	if s.cache != nil {
		data, ok, err := s.cache.GetRanking(ctx, rankListID)
		if err != nil {
			s.logger.Warn("ranking cache read failed", "ranklist_id", rankListID, "error", err)
		}
		s.metrics.RecordCacheLookup(ok)
		if ok {
			return data, nil
		}
	}

	start := time.Now()
	rl, events, sb, members, err := s.loadRankList(ctx, rankListID, nil)
	if err != nil {
		return nil, err
	}
	data := domain.BuildRanking(*rl, events, members, sb)
	s.metrics.ObserveAggregation("ranking", time.Since(start))

	if s.cache != nil {
		if err := s.cache.SetRanking(ctx, &data); err != nil {
			s.logger.Warn("ranking cache write failed", "ranklist_id", rankListID, "error", err)
		}
	}
	return &data, nil
}

// GetUserEventHistory returns the per-event points of one user in a ranklist
func (s *RankListService) GetUserEventHistory(ctx context.Context, userID, rankListID int64) (*domain.UserHistory, error) {
	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("checking user: %w", err)
	}
	if !exists {
		return nil, domain.ErrUserNotFound
	}

	start := time.Now()
	rl, events, sb, _, err := s.loadRankList(ctx, rankListID, []int64{userID})
	if err != nil {
		return nil, err
	}
	history := domain.BuildHistory(*rl, events, userID, sb)
	s.metrics.ObserveAggregation("history", time.Since(start))

	for _, row := range history.Rows {
		if row.CreditMismatch {
			s.logger.Debug("history row counts solves hidden by strict attendance",
				"ranklist_id", rankListID,
				"user_id", userID,
				"event_id", row.Event.ID,
			)
		}
	}
	return &history, nil
}

// loadRankList reads a ranklist with its events and the stat rows of the given users.
// When userIDs is nil the ranklist members are loaded and used.
func (s *RankListService) loadRankList(ctx context.Context, rankListID int64, userIDs []int64) (*domain.RankList, []domain.RankListEvent, domain.Scoreboard, []domain.Member, error) {
	var sb domain.Scoreboard

	rl, err := s.store.GetRankList(ctx, rankListID)
	if err != nil {
		return nil, nil, sb, nil, fmt.Errorf("getting ranklist: %w", err)
	}

	events, err := s.store.GetRankListEvents(ctx, rankListID)
	if err != nil {
		return nil, nil, sb, nil, fmt.Errorf("getting ranklist events: %w", err)
	}

	var members []domain.Member
	if userIDs == nil {
		members, err = s.store.GetMembers(ctx, rankListID)
		if err != nil {
			return nil, nil, sb, nil, fmt.Errorf("getting members: %w", err)
		}
		userIDs = make([]int64, len(members))
		for i, m := range members {
			userIDs[i] = m.User.ID
		}
	}

	eventIDs := make([]int64, len(events))
	for i, ev := range events {
		eventIDs[i] = ev.ID
	}

	stats, err := s.store.GetSolveStats(ctx, userIDs, eventIDs)
	if err != nil {
		return nil, nil, sb, nil, fmt.Errorf("getting solve stats: %w", err)
	}
	attendances, err := s.store.GetAttendances(ctx, userIDs, eventIDs)
	if err != nil {
		return nil, nil, sb, nil, fmt.Errorf("getting attendances: %w", err)
	}

	return rl, events, domain.NewScoreboard(stats, attendances), members, nil
}

// JoinRankList adds the user to the ranklist with a zero score
func (s *RankListService) JoinRankList(ctx context.Context, userID, rankListID int64) domain.ActionResult {
	return s.membershipAction(ctx, ReasonJoin, userID, rankListID, func() error {
		added, err := s.store.AddMember(ctx, userID, rankListID)
		if err != nil {
			return err
		}
		if !added {
			return domain.ErrAlreadyMember
		}
		return nil
	})
}

// LeaveRankList removes the user from the ranklist
func (s *RankListService) LeaveRankList(ctx context.Context, userID, rankListID int64) domain.ActionResult {
	return s.membershipAction(ctx, ReasonLeave, userID, rankListID, func() error {
		removed, err := s.store.RemoveMember(ctx, userID, rankListID)
		if err != nil {
			return err
		}
		if !removed {
			return domain.ErrNotMember
		}
		return nil
	})
}

// membershipAction runs the shared checks around a join or leave and folds every failure
// into an ActionResult. Storage errors are logged and reported generically.
func (s *RankListService) membershipAction(ctx context.Context, action string, userID, rankListID int64, mutate func() error) domain.ActionResult {
	result := s.runMembershipAction(ctx, userID, rankListID, mutate)

	outcome := "success"
	switch {
	case result.Success:
		s.invalidate(ctx, rankListID)
		if s.notifier != nil {
			s.notifier.BroadcastRankListUpdate(rankListID, action)
		}
		s.logger.Info("membership changed", "action", action, "user_id", userID, "ranklist_id", rankListID)
	case errors.Is(result.Err, domain.ErrInternalError):
		outcome = "error"
	default:
		outcome = "rejected"
	}
	s.metrics.RecordMembershipAction(action, outcome)
	return result
}

func (s *RankListService) runMembershipAction(ctx context.Context, userID, rankListID int64, mutate func() error) domain.ActionResult {
	if userID <= 0 {
		return failure(domain.ErrUnauthorized)
	}

	if _, err := s.store.GetRankList(ctx, rankListID); err != nil {
		if errors.Is(err, domain.ErrRankListNotFound) {
			return failure(domain.ErrRankListNotFound)
		}
		s.logger.Error("failed to load ranklist for membership change", "ranklist_id", rankListID, "error", err)
		return internalFailure()
	}

	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		s.logger.Error("failed to check user for membership change", "user_id", userID, "error", err)
		return internalFailure()
	}
	if !exists {
		return failure(domain.ErrUserNotFound)
	}

	if err := mutate(); err != nil {
		if domain.IsMembershipConflict(err) {
			return failure(err)
		}
		s.logger.Error("failed to change membership",
			"user_id", userID,
			"ranklist_id", rankListID,
			"error", err,
		)
		return internalFailure()
	}
	return domain.ActionResult{Success: true}
}

func failure(err error) domain.ActionResult {
	return domain.ActionResult{Success: false, Error: err.Error(), Err: err}
}

func internalFailure() domain.ActionResult {
	return domain.ActionResult{Success: false, Error: domain.GenericFailureMessage, Err: domain.ErrInternalError}
}

func (s *RankListService) invalidate(ctx context.Context, rankListIDs ...int64) {
	if s.cache == nil || len(rankListIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, rankListIDs...); err != nil {
		s.logger.Warn("failed to invalidate cached rankings", "ranklist_ids", rankListIDs, "error", err)
	}
}

// RecomputeSummary reports a finished recompute
type RecomputeSummary struct {
	RankLists  int `json:"ranklists"`
	Members    int `json:"members"`
	Mismatches int `json:"credit_mismatches"`
	Failed     int `json:"failed"`
}

// RecomputeRankList rewrites the stored score of every member from their solve stats
func (s *RankListService) RecomputeRankList(ctx context.Context, rankListID int64) (RecomputeSummary, error) {
	rl, events, sb, members, err := s.loadRankList(ctx, rankListID, nil)
	if err != nil {
		return RecomputeSummary{}, err
	}

	totals := domain.ComputeTotals(*rl, events, members, sb)
	if err := s.store.UpdateMemberScores(ctx, rankListID, totals.Scores); err != nil {
		return RecomputeSummary{}, fmt.Errorf("updating member scores: %w", err)
	}

	if totals.Mismatches > 0 {
		s.logger.Warn("scores count solves that the ranking shows as strict-attendance absences",
			"ranklist_id", rankListID,
			"cells", totals.Mismatches,
		)
	}

	s.invalidate(ctx, rankListID)
	if s.notifier != nil {
		s.notifier.BroadcastRankListUpdate(rankListID, ReasonRecompute)
	}

	return RecomputeSummary{
		RankLists:  1,
		Members:    len(totals.Scores),
		Mismatches: totals.Mismatches,
	}, nil
}

// RecomputeAll recomputes every active ranklist. A failing ranklist is logged and skipped.
func (s *RankListService) RecomputeAll(ctx context.Context) (RecomputeSummary, error) {
	start := time.Now()

	rankLists, err := s.store.ListRankLists(ctx)
	if err != nil {
		return RecomputeSummary{}, fmt.Errorf("listing ranklists: %w", err)
	}

	var summary RecomputeSummary
	for _, rl := range rankLists {
		if !rl.IsActive {
			continue
		}
		one, err := s.RecomputeRankList(ctx, rl.ID)
		if err != nil {
			s.logger.Error("failed to recompute ranklist", "ranklist_id", rl.ID, "error", err)
			summary.Failed++
			continue
		}
		summary.RankLists++
		summary.Members += one.Members
		summary.Mismatches += one.Mismatches
	}

	s.metrics.ObserveRecompute(time.Since(start), summary.Members, summary.Mismatches)
	return summary, nil
}
