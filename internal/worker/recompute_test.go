package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/club-ranklist/internal/config"
	"github.com/club-ranklist/internal/service"
	"github.com/club-ranklist/internal/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

type countingRecomputer struct {
	calls   atomic.Int32
	summary service.RecomputeSummary
	err     error
}

func (r *countingRecomputer) RecomputeAll(context.Context) (service.RecomputeSummary, error) {
	r.calls.Add(1)
	return r.summary, r.err
}

func TestRecomputeWorker(t *testing.T) {
	Convey("Given a recompute worker", t, func() {
		recomputer := &countingRecomputer{summary: service.RecomputeSummary{RankLists: 2, Members: 5, Mismatches: 1}}
		cfg := &config.RecomputeConfig{Interval: 10 * time.Millisecond, Enabled: true}
		w := NewRecomputeWorker(recomputer, cfg, testutil.DiscardLogger())

		Convey("When run once", func() {
			summary := w.RunOnce(context.Background())

			Convey("Then the summary of the cycle is returned", func() {
				So(summary.RankLists, ShouldEqual, 2)
				So(summary.Members, ShouldEqual, 5)
				So(recomputer.calls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When the cycle fails", func() {
			recomputer.err = errors.New("database unavailable")
			summary := w.RunOnce(context.Background())

			Convey("Then whatever the recomputer reported is returned", func() {
				So(summary.RankLists, ShouldEqual, 2)
			})
		})

		Convey("When started", func() {
			So(w.Start(context.Background()), ShouldBeNil)
			So(w.IsRunning(), ShouldBeTrue)

			Convey("Then cycles run on the interval until stopped", func() {
				deadline := time.Now().Add(2 * time.Second)
				for recomputer.calls.Load() < 2 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				So(recomputer.calls.Load(), ShouldBeGreaterThanOrEqualTo, 2)

				So(w.Stop(), ShouldBeNil)
				So(w.IsRunning(), ShouldBeFalse)
			})

			Convey("Then starting again is a no-op", func() {
				So(w.Start(context.Background()), ShouldBeNil)
				So(w.Stop(), ShouldBeNil)
			})
		})

		Convey("When stopped without starting", func() {
			So(w.Stop(), ShouldBeNil)
		})
	})
}
