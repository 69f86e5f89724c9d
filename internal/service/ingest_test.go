package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/club-ranklist/internal/domain"
	"github.com/club-ranklist/internal/service"
	"github.com/club-ranklist/internal/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func boolPtr(b bool) *bool { return &b }

func TestIngestBatch(t *testing.T) {
	Convey("Given an ingest service over a ranklist", t, func() {
		f := newFixture()
		ctx := context.Background()
		svc := service.NewIngestService(f.store, f.cache, f.notifier, nil, testutil.DiscardLogger())

		Convey("When a batch mixes valid and invalid records", func() {
			summary, err := svc.IngestBatch(ctx, domain.IngestBatch{Records: []domain.StatRecord{
				{Kind: domain.RecordKindSolveStat, UserID: 1, EventID: 10, SolveCount: 2, UpsolveCount: 1},
				{Kind: domain.RecordKindSolveStat, UserID: 2, EventID: 10, SolveCount: 1, Participation: boolPtr(false)},
				{Kind: domain.RecordKindAttendance, UserID: 1, EventID: 11},
				{Kind: domain.RecordKindSolveStat, UserID: 1, EventID: 10, SolveCount: -1},
				{Kind: "rating", UserID: 1, EventID: 10},
				{Kind: domain.RecordKindAttendance, UserID: 0, EventID: 11},
			}})

			Convey("Then valid records are stored and the rest are rejected", func() {
				So(err, ShouldBeNil)
				So(summary.BatchID, ShouldNotBeEmpty)
				So(summary.SolveStats, ShouldEqual, 2)
				So(summary.Attendances, ShouldEqual, 1)
				So(summary.Rejected, ShouldEqual, 3)

				stat, ok := f.store.Stat(1, 10)
				So(ok, ShouldBeTrue)
				So(stat.SolveCount, ShouldEqual, 2)
				So(stat.Participation, ShouldBeTrue)

				absent, ok := f.store.Stat(2, 10)
				So(ok, ShouldBeTrue)
				So(absent.Participation, ShouldBeFalse)

				So(f.store.Attended(1, 11), ShouldBeTrue)
			})

			Convey("Then the affected ranklist is refreshed", func() {
				So(f.cache.Invalidated, ShouldResemble, []int64{1})
				So(f.notifier.Broadcasts, ShouldResemble, []testutil.Broadcast{{RankListID: 1, Reason: service.ReasonIngest}})
			})
		})

		Convey("When a batch repeats the same pair", func() {
			summary, err := svc.IngestBatch(ctx, domain.IngestBatch{Records: []domain.StatRecord{
				{Kind: domain.RecordKindSolveStat, UserID: 3, EventID: 10, SolveCount: 1},
				{Kind: domain.RecordKindSolveStat, UserID: 3, EventID: 10, SolveCount: 4, UpsolveCount: 2},
			}})

			Convey("Then the last record wins", func() {
				So(err, ShouldBeNil)
				So(summary.SolveStats, ShouldEqual, 1)
				stat, _ := f.store.Stat(3, 10)
				So(stat.SolveCount, ShouldEqual, 4)
				So(stat.UpsolveCount, ShouldEqual, 2)
			})
		})

		Convey("When the records touch no ranklist event", func() {
			f.store.AddEvent(domain.Event{ID: 500, Title: "open practice", Weight: 1})
			_, err := svc.IngestBatch(ctx, domain.IngestBatch{Records: []domain.StatRecord{
				{Kind: domain.RecordKindAttendance, UserID: 1, EventID: 500},
			}})

			Convey("Then nothing is broadcast", func() {
				So(err, ShouldBeNil)
				So(f.store.Attended(1, 500), ShouldBeTrue)
				So(f.notifier.Count(), ShouldEqual, 0)
			})
		})

		Convey("When records name users or events that do not exist", func() {
			summary, err := svc.IngestBatch(ctx, domain.IngestBatch{Records: []domain.StatRecord{
				{Kind: domain.RecordKindSolveStat, UserID: 1, EventID: 10, SolveCount: 1},
				{Kind: domain.RecordKindSolveStat, UserID: 999, EventID: 10, SolveCount: 5},
				{Kind: domain.RecordKindAttendance, UserID: 2, EventID: 777},
				{Kind: domain.RecordKindSolveStat, UserID: 2, EventID: 10, SolveCount: 2},
			}})

			Convey("Then only those records are rejected and the rest are stored", func() {
				So(err, ShouldBeNil)
				So(summary.SolveStats, ShouldEqual, 2)
				So(summary.Attendances, ShouldEqual, 0)
				So(summary.Rejected, ShouldEqual, 2)

				_, ok := f.store.Stat(1, 10)
				So(ok, ShouldBeTrue)
				_, ok = f.store.Stat(2, 10)
				So(ok, ShouldBeTrue)
				_, ok = f.store.Stat(999, 10)
				So(ok, ShouldBeFalse)
				So(f.store.Attended(2, 777), ShouldBeFalse)
			})
		})

		Convey("When storage fails", func() {
			f.store.Err = errors.New("disk full")
			_, err := svc.IngestBatch(ctx, domain.IngestBatch{Records: []domain.StatRecord{
				{Kind: domain.RecordKindSolveStat, UserID: 1, EventID: 10, SolveCount: 1},
			}})

			Convey("Then the batch fails", func() {
				So(err, ShouldNotBeNil)
				So(f.notifier.Count(), ShouldEqual, 0)
			})
		})
	})
}
