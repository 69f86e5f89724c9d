package domain

import (
	"time"
)

// DefaultEventWeight is used when neither the ranklist nor the event carries a weight.
const DefaultEventWeight = 1.0

// User is a club member as shown on ranklist pages
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Handle   string `json:"handle,omitempty"`
}

// Event is a contest or class session that solves are recorded against
type Event struct {
	ID                int64     `json:"id"`
	Title             string    `json:"title"`
	StartTime         time.Time `json:"start_time"`
	Weight            float64   `json:"weight"`
	OpenForAttendance bool      `json:"open_for_attendance"`
	StrictAttendance  bool      `json:"strict_attendance"`
}

// RankListEvent is an event attached to a ranklist with an optional weight override
type RankListEvent struct {
	Event
	WeightOverride *float64 `json:"weight_override,omitempty"`
}

// EffectiveWeight returns the per-ranklist override when set, otherwise the event's own weight.
func (e RankListEvent) EffectiveWeight() float64 {
	if e.WeightOverride != nil {
		return *e.WeightOverride
	}
	return e.Event.Weight
}

// RankList is a scored leaderboard over a subset of events
type RankList struct {
	ID                       int64     `json:"id"`
	Keyword                  string    `json:"keyword"`
	Description              string    `json:"description,omitempty"`
	WeightOfUpsolve          float64   `json:"weight_of_upsolve"`
	ConsiderStrictAttendance bool      `json:"consider_strict_attendance"`
	IsActive                 bool      `json:"is_active"`
	CreatedAt                time.Time `json:"created_at"`
}

// Member is a user together with the stored ranklist score
type Member struct {
	User  User    `json:"user"`
	Score float64 `json:"score"`
}

// SolveStat holds a user's in-contest and after-contest solve counts for one event
type SolveStat struct {
	UserID        int64 `json:"user_id"`
	EventID       int64 `json:"event_id"`
	SolveCount    int   `json:"solve_count"`
	UpsolveCount  int   `json:"upsolve_count"`
	Participation bool  `json:"participation"`
}

// Attendance marks verified presence of a user at an event
type Attendance struct {
	UserID  int64 `json:"user_id"`
	EventID int64 `json:"event_id"`
}

// StatKey identifies a (user, event) pair
type StatKey struct {
	UserID  int64
	EventID int64
}

// Key returns the (user, event) key of the stat
func (s SolveStat) Key() StatKey {
	return StatKey{UserID: s.UserID, EventID: s.EventID}
}

// Key returns the (user, event) key of the attendance
func (a Attendance) Key() StatKey {
	return StatKey{UserID: a.UserID, EventID: a.EventID}
}

// Record kinds accepted by the ingestion pipeline
const (
	RecordKindSolveStat  = "solve_stat"
	RecordKindAttendance = "attendance"
)

// StatRecord is a single ingestion record for either a solve stat or an attendance row
type StatRecord struct {
	Kind          string `json:"kind"`
	UserID        int64  `json:"user_id"`
	EventID       int64  `json:"event_id"`
	SolveCount    int    `json:"solve_count,omitempty"`
	UpsolveCount  int    `json:"upsolve_count,omitempty"`
	Participation *bool  `json:"participation,omitempty"`
}

// Validate checks the record's kind, ids and counts
func (r StatRecord) Validate() error {
	if r.UserID <= 0 || r.EventID <= 0 {
		return ErrInvalidRecord
	}
	switch r.Kind {
	case RecordKindSolveStat:
		if r.SolveCount < 0 || r.UpsolveCount < 0 {
			return ErrInvalidRecord
		}
	case RecordKindAttendance:
	default:
		return ErrInvalidRecord
	}
	return nil
}

// SolveStat converts the record to a solve stat. A missing participation flag means the user took part.
func (r StatRecord) SolveStat() SolveStat {
	participation := true
	if r.Participation != nil {
		participation = *r.Participation
	}
	return SolveStat{
		UserID:        r.UserID,
		EventID:       r.EventID,
		SolveCount:    r.SolveCount,
		UpsolveCount:  r.UpsolveCount,
		Participation: participation,
	}
}

// Attendance converts the record to an attendance row
func (r StatRecord) Attendance() Attendance {
	return Attendance{UserID: r.UserID, EventID: r.EventID}
}

// IngestBatch is a set of records submitted together
type IngestBatch struct {
	Records []StatRecord `json:"records"`
}

// IngestSummary reports what happened to a batch
type IngestSummary struct {
	BatchID     string `json:"batch_id"`
	SolveStats  int    `json:"solve_stats"`
	Attendances int    `json:"attendances"`
	Rejected    int    `json:"rejected"`
}

// ActionResult is the outcome of a membership action as shown to the caller
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Err is the underlying domain error, used to pick a transport status.
	Err error `json:"-"`
}
