package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/club-ranklist/internal/domain"
	"github.com/club-ranklist/internal/testutil"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRankingKey(t *testing.T) {
	Convey("Ranking keys are namespaced by ranklist id", t, func() {
		So(rankingKey(42), ShouldEqual, "ranklist:42:ranking")
	})
}

// Runs against a real server when RANKLIST_TEST_REDIS_ADDR is set.
func TestRankingCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("RANKLIST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RANKLIST_TEST_REDIS_ADDR not set")
	}

	Convey("Given a cache on a live Redis", t, func() {
		ctx := context.Background()
		client := redis.NewClient(&redis.Options{Addr: addr})
		cache := NewRankingCacheWithClient(client, time.Minute, testutil.DiscardLogger())
		Reset(func() { cache.Close() })

		const id = 900001
		So(cache.Invalidate(ctx, id), ShouldBeNil)

		Convey("A missing ranking is a miss", func() {
			_, ok, err := cache.GetRanking(ctx, id)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("A stored ranking is returned until invalidated", func() {
			data := &domain.RankingData{
				RankList: domain.RankList{ID: id, Keyword: "cached"},
				Events:   []domain.RankListEvent{{Event: domain.Event{ID: 1, Weight: 1}}},
				Users: []domain.Standing{{
					User:  domain.User{ID: 7, Username: "ada"},
					Score: 3,
					Cells: []domain.Cell{{EventID: 1, State: domain.CellAbsentStrict, Upsolves: 2}},
				}},
			}
			So(cache.SetRanking(ctx, data), ShouldBeNil)

			got, ok, err := cache.GetRanking(ctx, id)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(got.Users[0].Cells[0].State, ShouldEqual, domain.CellAbsentStrict)

			So(cache.Invalidate(ctx, id), ShouldBeNil)
			_, ok, err = cache.GetRanking(ctx, id)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("An undecodable payload counts as a miss", func() {
			So(client.Set(ctx, rankingKey(id), "{", time.Minute).Err(), ShouldBeNil)
			_, ok, err := cache.GetRanking(ctx, id)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}
