package metrics

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRecorder(t *testing.T) {
	Convey("Given a recorder without history", t, func() {
		rec := NewRecorder(nil)
		ctx := context.Background()

		Convey("An empty recorder summarizes to zero", func() {
			So(rec.Summary(), ShouldResemble, Summary{})
		})

		Convey("A game's duration counts from its first tick", func() {
			game := rec.StartGame("g1")
			game.UpdateTick(100)
			game.UpdateTick(101)
			game.AddReward(2.5)
			game.AddReward(-0.5)

			record := rec.EndGame(ctx, game, 150, "eliminated")
			So(record.Duration, ShouldEqual, 50)
			So(record.Score, ShouldEqual, 2)
			So(record.GameID, ShouldEqual, "g1")
			So(record.ID, ShouldNotBeBlank)

			Convey("And summaries average over games", func() {
				other := rec.StartGame("g2")
				other.AddReward(4)
				rec.EndGame(ctx, other, 30, "closed")

				summary := rec.Summary()
				So(summary.TotalGames, ShouldEqual, 2)
				So(summary.AvgScore, ShouldEqual, 3)
				So(summary.AvgDuration, ShouldEqual, 40)
				So(summary.Last.GameID, ShouldEqual, "g2")
			})
		})

		Convey("Concurrent rewards all count", func() {
			game := rec.StartGame("g")
			wg := sync.WaitGroup{}
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 100; j++ {
						game.AddReward(1)
					}
				}()
			}
			wg.Wait()
			So(game.Score(), ShouldEqual, 5000)
		})
	})
}

func TestHistory(t *testing.T) {
	Convey("Given a sqlite history", t, func() {
		ctx := context.Background()
		history, err := OpenHistory(filepath.Join(t.TempDir(), "db", "games.sqlite"))
		So(err, ShouldBeNil)
		Reset(func() { _ = history.Close() })

		rec := NewRecorder(history)

		Convey("Ended games are recorded, newest first", func() {
			for _, id := range []string{"a", "b", "c"} {
				game := rec.StartGame(id)
				game.AddReward(1)
				rec.EndGame(ctx, game, 10, "closed")
			}

			recent, err := history.Recent(ctx, 2)
			So(err, ShouldBeNil)
			So(len(recent), ShouldEqual, 2)
			So(recent[0].GameID, ShouldEqual, "c")
			So(recent[1].GameID, ShouldEqual, "b")
			So(recent[0].Score, ShouldEqual, 1)
			So(recent[0].EndedAt.IsZero(), ShouldBeFalse)
		})

		Convey("An empty path is refused", func() {
			_, err := OpenHistory("")
			So(err, ShouldNotBeNil)
		})
	})
}
