// Package testutil provides in-memory stand-ins for the storage, cache and notifier
// dependencies of the service layer.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/club-ranklist/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// foreignKeyViolation is what PostgreSQL reports for a stat row naming a missing user or event.
func foreignKeyViolation(table string) error {
	return &pgconn.PgError{Code: "23503", Message: "insert or update on table \"" + table + "\" violates foreign key constraint"}
}

type membership struct {
	seq        int64
	userID     int64
	rankListID int64
	score      float64
}

// MemStore is an in-memory implementation of the service store
type MemStore struct {
	mu          sync.Mutex
	users       map[int64]domain.User
	rankLists   map[int64]domain.RankList
	events      map[int64][]domain.RankListEvent
	catalog     map[int64]domain.Event
	members     []membership
	stats       map[domain.StatKey]domain.SolveStat
	attendances map[domain.StatKey]bool
	seq         int64

	// Err, when set, is returned by every method.
	Err error
}

// NewMemStore creates an empty store
func NewMemStore() *MemStore {
	return &MemStore{
		users:       make(map[int64]domain.User),
		rankLists:   make(map[int64]domain.RankList),
		events:      make(map[int64][]domain.RankListEvent),
		catalog:     make(map[int64]domain.Event),
		stats:       make(map[domain.StatKey]domain.SolveStat),
		attendances: make(map[domain.StatKey]bool),
	}
}

// AddUser registers a user
func (s *MemStore) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddRankList registers a ranklist with its events in display order
func (s *MemStore) AddRankList(rl domain.RankList, events ...domain.RankListEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rankLists[rl.ID] = rl
	s.events[rl.ID] = events
	for _, ev := range events {
		s.catalog[ev.ID] = ev.Event
	}
}

// AddEvent registers an event that belongs to no ranklist
func (s *MemStore) AddEvent(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[ev.ID] = ev
}

// SetMemberScore sets the stored score of an existing membership
func (s *MemStore) SetMemberScore(userID, rankListID int64, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.members {
		if s.members[i].userID == userID && s.members[i].rankListID == rankListID {
			s.members[i].score = score
		}
	}
}

// MemberCount returns how many membership rows exist for the pair
func (s *MemStore) MemberCount(userID, rankListID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.members {
		if m.userID == userID && m.rankListID == rankListID {
			n++
		}
	}
	return n
}

// Stat returns a stored solve stat
func (s *MemStore) Stat(userID, eventID int64) (domain.SolveStat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stat, ok := s.stats[domain.StatKey{UserID: userID, EventID: eventID}]
	return stat, ok
}

// Attended reports whether an attendance row is stored
func (s *MemStore) Attended(userID, eventID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attendances[domain.StatKey{UserID: userID, EventID: eventID}]
}

func (s *MemStore) GetRankList(_ context.Context, rankListID int64) (*domain.RankList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	rl, ok := s.rankLists[rankListID]
	if !ok {
		return nil, domain.ErrRankListNotFound
	}
	return &rl, nil
}

func (s *MemStore) ListRankLists(_ context.Context) ([]domain.RankList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.RankList
	for _, rl := range s.rankLists {
		out = append(out, rl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) GetRankListEvents(_ context.Context, rankListID int64) ([]domain.RankListEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]domain.RankListEvent(nil), s.events[rankListID]...), nil
}

func (s *MemStore) GetMembers(_ context.Context, rankListID int64) ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var rows []membership
	for _, m := range s.members {
		if m.rankListID == rankListID {
			rows = append(rows, m)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]domain.Member, 0, len(rows))
	for _, m := range rows {
		out = append(out, domain.Member{User: s.users[m.userID], Score: m.score})
	}
	return out, nil
}

func (s *MemStore) GetSolveStats(_ context.Context, userIDs, eventIDs []int64) ([]domain.SolveStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.SolveStat
	for _, u := range userIDs {
		for _, e := range eventIDs {
			if stat, ok := s.stats[domain.StatKey{UserID: u, EventID: e}]; ok {
				out = append(out, stat)
			}
		}
	}
	return out, nil
}

func (s *MemStore) GetAttendances(_ context.Context, userIDs, eventIDs []int64) ([]domain.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.Attendance
	for _, u := range userIDs {
		for _, e := range eventIDs {
			if s.attendances[domain.StatKey{UserID: u, EventID: e}] {
				out = append(out, domain.Attendance{UserID: u, EventID: e})
			}
		}
	}
	return out, nil
}

func (s *MemStore) UserExists(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	_, ok := s.users[userID]
	return ok, nil
}

func (s *MemStore) AddMember(_ context.Context, userID, rankListID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if _, ok := s.users[userID]; !ok {
		return false, foreignKeyViolation("ranklist_memberships")
	}
	for _, m := range s.members {
		if m.userID == userID && m.rankListID == rankListID {
			return false, nil
		}
	}
	s.seq++
	s.members = append(s.members, membership{seq: s.seq, userID: userID, rankListID: rankListID})
	return true, nil
}

func (s *MemStore) RemoveMember(_ context.Context, userID, rankListID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	for i, m := range s.members {
		if m.userID == userID && m.rankListID == rankListID {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) UpdateMemberScores(_ context.Context, rankListID int64, scores map[int64]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i := range s.members {
		if s.members[i].rankListID != rankListID {
			continue
		}
		if score, ok := scores[s.members[i].userID]; ok {
			s.members[i].score = score
		}
	}
	return nil
}

func (s *MemStore) UpsertSolveStats(_ context.Context, stats []domain.SolveStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, stat := range stats {
		if !s.known(stat.UserID, stat.EventID) {
			return foreignKeyViolation("solve_stats")
		}
	}
	for _, stat := range stats {
		s.stats[stat.Key()] = stat
	}
	return nil
}

func (s *MemStore) UpsertAttendances(_ context.Context, attendances []domain.Attendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, a := range attendances {
		if !s.known(a.UserID, a.EventID) {
			return foreignKeyViolation("attendances")
		}
	}
	for _, a := range attendances {
		s.attendances[a.Key()] = true
	}
	return nil
}

func (s *MemStore) RankListsForEvents(_ context.Context, eventIDs []int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	wanted := make(map[int64]bool, len(eventIDs))
	for _, id := range eventIDs {
		wanted[id] = true
	}
	var out []int64
	for rlID, events := range s.events {
		for _, ev := range events {
			if wanted[ev.ID] {
				out = append(out, rlID)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemStore) ExistingUserIDs(_ context.Context, userIDs []int64) (map[int64]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	found := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		if _, ok := s.users[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

func (s *MemStore) ExistingEventIDs(_ context.Context, eventIDs []int64) (map[int64]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	found := make(map[int64]bool, len(eventIDs))
	for _, id := range eventIDs {
		if _, ok := s.catalog[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

// known reports whether both sides of a stat row exist; callers hold the lock
func (s *MemStore) known(userID, eventID int64) bool {
	_, userOK := s.users[userID]
	_, eventOK := s.catalog[eventID]
	return userOK && eventOK
}
