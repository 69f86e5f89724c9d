package domain

import (
	"fmt"
	"sort"
)

// CellState is the display state of one (user, event) cell
type CellState int

const (
	// CellNoData means no solve stat was recorded for the pair.
	CellNoData CellState = iota
	// CellAbsent means the user did not take part in the event.
	CellAbsent
	// CellAbsentStrict means the user took part but missed a strict attendance check.
	CellAbsentStrict
	// CellNormal means solves and upsolves count as recorded.
	CellNormal
)

var cellStateNames = map[CellState]string{
	CellNoData:       "no_data",
	CellAbsent:       "absent",
	CellAbsentStrict: "absent_strict",
	CellNormal:       "normal",
}

func (s CellState) String() string {
	if name, ok := cellStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CellState(%d)", int(s))
}

// MarshalText encodes the state by name
func (s CellState) MarshalText() ([]byte, error) {
	name, ok := cellStateNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown cell state %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a state name
func (s *CellState) UnmarshalText(text []byte) error {
	for state, name := range cellStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown cell state %q", string(text))
}

// IsAbsent reports whether the cell renders as an absence
func (s CellState) IsAbsent() bool {
	return s == CellAbsent || s == CellAbsentStrict
}

// Cell is the display breakdown for one (user, event) pair.
// Solves and Upsolves are zero when nothing is shown.
type Cell struct {
	EventID  int64     `json:"event_id"`
	State    CellState `json:"state"`
	Solves   int       `json:"solves,omitempty"`
	Upsolves int       `json:"upsolves,omitempty"`
}

// RequiresAttendance reports whether a missing attendance row turns solves into upsolve credit
// for this event under the given ranklist.
func RequiresAttendance(rl RankList, ev Event) bool {
	return rl.ConsiderStrictAttendance && ev.OpenForAttendance && ev.StrictAttendance
}

// Classify derives the display cell for a user and event. stat is nil when no row exists.
func Classify(rl RankList, ev Event, stat *SolveStat, attended bool) Cell {
	cell := Cell{EventID: ev.ID}

	switch {
	case stat == nil:
		cell.State = CellNoData
	case !stat.Participation:
		cell.State = CellAbsent
		cell.Upsolves = stat.UpsolveCount
	case RequiresAttendance(rl, ev) && !attended:
		cell.State = CellAbsentStrict
		cell.Upsolves = stat.SolveCount + stat.UpsolveCount
	default:
		cell.State = CellNormal
		cell.Solves = stat.SolveCount
		cell.Upsolves = stat.UpsolveCount
	}
	return cell
}

// Points is the score contribution of one stat. It uses the raw counts whatever the cell state is.
func Points(weight, weightOfUpsolve float64, stat SolveStat) float64 {
	return float64(stat.SolveCount)*weight +
		float64(stat.UpsolveCount)*weightOfUpsolve*weight
}

// CreditMismatch reports whether the displayed cell hides solve credit that Points still counts.
func CreditMismatch(cell Cell, stat SolveStat) bool {
	return cell.State == CellAbsentStrict && stat.SolveCount > 0
}

// Standing is one ranked member with a cell per ranklist event
type Standing struct {
	User  User    `json:"user"`
	Score float64 `json:"score"`
	Cells []Cell  `json:"solve_stats"`
}

// RankingData is the full ranklist grid
type RankingData struct {
	RankList RankList        `json:"ranklist"`
	Events   []RankListEvent `json:"events"`
	Users    []Standing      `json:"users"`
}

// IsEmpty reports whether there is nothing to render
func (d RankingData) IsEmpty() bool {
	return len(d.Users) == 0
}

// Scoreboard holds the stat and attendance rows restricted to a ranklist's members and events
type Scoreboard struct {
	Stats      map[StatKey]SolveStat
	Attendance map[StatKey]bool
}

// NewScoreboard indexes stat and attendance rows by (user, event)
func NewScoreboard(stats []SolveStat, attendances []Attendance) Scoreboard {
	sb := Scoreboard{
		Stats:      make(map[StatKey]SolveStat, len(stats)),
		Attendance: make(map[StatKey]bool, len(attendances)),
	}
	for _, s := range stats {
		sb.Stats[s.Key()] = s
	}
	for _, a := range attendances {
		sb.Attendance[a.Key()] = true
	}
	return sb
}

// Lookup returns the stat for a pair, or nil when there is none
func (sb Scoreboard) Lookup(userID, eventID int64) *SolveStat {
	stat, ok := sb.Stats[StatKey{UserID: userID, EventID: eventID}]
	if !ok {
		return nil
	}
	return &stat
}

// Attended reports whether an attendance row exists for the pair
func (sb Scoreboard) Attended(userID, eventID int64) bool {
	return sb.Attendance[StatKey{UserID: userID, EventID: eventID}]
}

// BuildRanking produces the ranked grid. Members are ordered by descending stored score;
// ties keep the order they were given in.
func BuildRanking(rl RankList, events []RankListEvent, members []Member, sb Scoreboard) RankingData {
	data := RankingData{
		RankList: rl,
		Events:   []RankListEvent{},
		Users:    []Standing{},
	}
	if len(events) == 0 || len(members) == 0 {
		return data
	}
	data.Events = events

	ordered := make([]Member, len(members))
	copy(ordered, members)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	for _, m := range ordered {
		standing := Standing{
			User:  m.User,
			Score: m.Score,
			Cells: make([]Cell, 0, len(events)),
		}
		for _, ev := range events {
			stat := sb.Lookup(m.User.ID, ev.ID)
			standing.Cells = append(standing.Cells, Classify(rl, ev.Event, stat, sb.Attended(m.User.ID, ev.ID)))
		}
		data.Users = append(data.Users, standing)
	}
	return data
}

// HistoryRow is one event of a user's score history
type HistoryRow struct {
	Event          Event     `json:"event"`
	SolveCount     int       `json:"solve_count"`
	UpsolveCount   int       `json:"upsolve_count"`
	Weight         float64   `json:"weight"`
	UpsolveWeight  float64   `json:"upsolve_weight"`
	Points         float64   `json:"points"`
	State          CellState `json:"state"`
	CreditMismatch bool      `json:"credit_mismatch,omitempty"`
}

// UserHistory is the per-event score breakdown of one user in one ranklist
type UserHistory struct {
	RankListID int64        `json:"ranklist_id"`
	UserID     int64        `json:"user_id"`
	Rows       []HistoryRow `json:"rows"`
	Total      float64      `json:"total"`
}

// BuildHistory lists every ranklist event the user has a stat for, in event order.
func BuildHistory(rl RankList, events []RankListEvent, userID int64, sb Scoreboard) UserHistory {
	history := UserHistory{
		RankListID: rl.ID,
		UserID:     userID,
		Rows:       []HistoryRow{},
	}
	for _, ev := range events {
		stat := sb.Lookup(userID, ev.ID)
		if stat == nil {
			continue
		}
		weight := ev.EffectiveWeight()
		cell := Classify(rl, ev.Event, stat, sb.Attended(userID, ev.ID))
		row := HistoryRow{
			Event:          ev.Event,
			SolveCount:     stat.SolveCount,
			UpsolveCount:   stat.UpsolveCount,
			Weight:         weight,
			UpsolveWeight:  rl.WeightOfUpsolve,
			Points:         Points(weight, rl.WeightOfUpsolve, *stat),
			State:          cell.State,
			CreditMismatch: CreditMismatch(cell, *stat),
		}
		history.Rows = append(history.Rows, row)
		history.Total += row.Points
	}
	return history
}

// ScoreTotals is the outcome of recomputing a ranklist's member scores
type ScoreTotals struct {
	Scores     map[int64]float64
	Mismatches int
}

// ComputeTotals sums Points over the ranklist events for every member.
// Mismatches counts cells whose display hides solves that the total still counts.
func ComputeTotals(rl RankList, events []RankListEvent, members []Member, sb Scoreboard) ScoreTotals {
	totals := ScoreTotals{Scores: make(map[int64]float64, len(members))}
	for _, m := range members {
		var total float64
		for _, ev := range events {
			stat := sb.Lookup(m.User.ID, ev.ID)
			if stat == nil {
				continue
			}
			total += Points(ev.EffectiveWeight(), rl.WeightOfUpsolve, *stat)
			if CreditMismatch(Classify(rl, ev.Event, stat, sb.Attended(m.User.ID, ev.ID)), *stat) {
				totals.Mismatches++
			}
		}
		totals.Scores[m.User.ID] = total
	}
	return totals
}
