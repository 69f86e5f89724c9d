package domain_test

import (
	"testing"

	"github.com/club-ranklist/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBuildRanking(t *testing.T) {
	Convey("Given a ranklist with two events and three members", t, func() {
		rl := domain.RankList{ID: 1, WeightOfUpsolve: 0.5, ConsiderStrictAttendance: true}
		events := []domain.RankListEvent{
			{Event: domain.Event{ID: 10, Weight: 1}},
			{Event: strictEvent(11)},
		}
		members := []domain.Member{
			{User: domain.User{ID: 1, Username: "ada"}, Score: 5},
			{User: domain.User{ID: 2, Username: "bob"}, Score: 9},
			{User: domain.User{ID: 3, Username: "cy"}, Score: 5},
		}
		sb := domain.NewScoreboard(
			[]domain.SolveStat{
				{UserID: 1, EventID: 10, SolveCount: 2, Participation: true},
				{UserID: 1, EventID: 11, SolveCount: 1, Participation: true},
				{UserID: 2, EventID: 11, SolveCount: 3, UpsolveCount: 1, Participation: true},
			},
			[]domain.Attendance{{UserID: 2, EventID: 11}},
		)

		data := domain.BuildRanking(rl, events, members, sb)

		Convey("Then members are ordered by descending score with ties kept in input order", func() {
			So(len(data.Users), ShouldEqual, 3)
			So(data.Users[0].User.ID, ShouldEqual, 2)
			So(data.Users[1].User.ID, ShouldEqual, 1)
			So(data.Users[2].User.ID, ShouldEqual, 3)
		})

		Convey("And each member has one cell per event", func() {
			for _, u := range data.Users {
				So(len(u.Cells), ShouldEqual, 2)
			}
			ada := data.Users[1]
			So(ada.Cells[0].State, ShouldEqual, domain.CellNormal)
			So(ada.Cells[1].State, ShouldEqual, domain.CellAbsentStrict)
			So(ada.Cells[1].Upsolves, ShouldEqual, 1)

			bob := data.Users[0]
			So(bob.Cells[0].State, ShouldEqual, domain.CellNoData)
			So(bob.Cells[1].State, ShouldEqual, domain.CellNormal)
			So(bob.Cells[1].Solves, ShouldEqual, 3)

			cy := data.Users[2]
			So(cy.Cells[0].State, ShouldEqual, domain.CellNoData)
			So(cy.Cells[1].State, ShouldEqual, domain.CellNoData)
		})

		Convey("And the input member slice is left untouched", func() {
			So(members[0].User.ID, ShouldEqual, 1)
		})
	})

	Convey("Given a ranklist without events or members", t, func() {
		rl := domain.RankList{ID: 4}
		sb := domain.NewScoreboard(nil, nil)

		Convey("Then the breakdown is empty", func() {
			noEvents := domain.BuildRanking(rl, nil, []domain.Member{{User: domain.User{ID: 1}}}, sb)
			So(noEvents.IsEmpty(), ShouldBeTrue)
			So(noEvents.RankList.ID, ShouldEqual, 4)

			noMembers := domain.BuildRanking(rl, []domain.RankListEvent{{Event: domain.Event{ID: 1}}}, nil, sb)
			So(noMembers.IsEmpty(), ShouldBeTrue)
			So(noMembers.Events, ShouldBeEmpty)
		})
	})
}

func TestBuildHistory(t *testing.T) {
	Convey("Given a user with stats in a ranklist", t, func() {
		rl := domain.RankList{ID: 1, WeightOfUpsolve: 0.25, ConsiderStrictAttendance: true}
		override := 2.0
		events := []domain.RankListEvent{
			{Event: domain.Event{ID: 10, Weight: 1}, WeightOverride: &override},
			{Event: domain.Event{ID: 11, Weight: 1}},
			{Event: strictEvent(12)},
		}
		sb := domain.NewScoreboard([]domain.SolveStat{
			{UserID: 1, EventID: 10, SolveCount: 3, UpsolveCount: 4, Participation: true},
			{UserID: 1, EventID: 12, SolveCount: 2, Participation: true},
			{UserID: 2, EventID: 11, SolveCount: 9, Participation: true},
		}, nil)

		history := domain.BuildHistory(rl, events, 1, sb)

		Convey("Then only events with a stat are listed", func() {
			So(len(history.Rows), ShouldEqual, 2)
			So(history.Rows[0].Event.ID, ShouldEqual, 10)
			So(history.Rows[1].Event.ID, ShouldEqual, 12)
		})

		Convey("And points use the effective weight and raw counts", func() {
			So(history.Rows[0].Weight, ShouldEqual, 2.0)
			So(history.Rows[0].UpsolveWeight, ShouldEqual, 0.25)
			So(history.Rows[0].Points, ShouldEqual, 8.0)
			So(history.Rows[1].Points, ShouldEqual, 2.0)
			So(history.Total, ShouldEqual, 10.0)
		})

		Convey("And the strict absence is flagged as a credit mismatch", func() {
			So(history.Rows[0].CreditMismatch, ShouldBeFalse)
			So(history.Rows[1].State, ShouldEqual, domain.CellAbsentStrict)
			So(history.Rows[1].CreditMismatch, ShouldBeTrue)
		})
	})
}

func TestComputeTotals(t *testing.T) {
	Convey("Given members with stats", t, func() {
		rl := domain.RankList{ID: 1, WeightOfUpsolve: 0.5, ConsiderStrictAttendance: true}
		events := []domain.RankListEvent{
			{Event: domain.Event{ID: 10, Weight: 2}},
			{Event: strictEvent(11)},
		}
		members := []domain.Member{{User: domain.User{ID: 1}}, {User: domain.User{ID: 2}}}
		sb := domain.NewScoreboard([]domain.SolveStat{
			{UserID: 1, EventID: 10, SolveCount: 1, UpsolveCount: 2, Participation: true},
			{UserID: 1, EventID: 11, SolveCount: 1, Participation: true},
		}, nil)

		totals := domain.ComputeTotals(rl, events, members, sb)

		Convey("Then every member gets a total, zero when there are no stats", func() {
			So(totals.Scores[1], ShouldEqual, 1*2+2*0.5*2+1.0)
			So(totals.Scores[2], ShouldEqual, 0.0)
			So(len(totals.Scores), ShouldEqual, 2)
		})

		Convey("And mismatching cells are counted", func() {
			So(totals.Mismatches, ShouldEqual, 1)
		})
	})
}

func TestStatRecord(t *testing.T) {
	Convey("Given ingestion records", t, func() {
		Convey("A solve stat without a participation flag counts as participating", func() {
			rec := domain.StatRecord{Kind: domain.RecordKindSolveStat, UserID: 1, EventID: 2, SolveCount: 3}
			So(rec.Validate(), ShouldBeNil)
			So(rec.SolveStat().Participation, ShouldBeTrue)
		})

		Convey("An explicit false participation is kept", func() {
			no := false
			rec := domain.StatRecord{Kind: domain.RecordKindSolveStat, UserID: 1, EventID: 2, Participation: &no}
			So(rec.SolveStat().Participation, ShouldBeFalse)
		})

		Convey("Bad records are rejected", func() {
			So(domain.StatRecord{Kind: "vote", UserID: 1, EventID: 1}.Validate(), ShouldEqual, domain.ErrInvalidRecord)
			So(domain.StatRecord{Kind: domain.RecordKindAttendance, EventID: 1}.Validate(), ShouldEqual, domain.ErrInvalidRecord)
			So(domain.StatRecord{Kind: domain.RecordKindSolveStat, UserID: 1, EventID: 1, SolveCount: -1}.Validate(), ShouldEqual, domain.ErrInvalidRecord)
		})
	})
}
