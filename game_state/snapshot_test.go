package game_state

import (
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const sampleState = `{
	"type": "state",
	"tick": 42,
	"inSpawnPhase": false,
	"me": {"smallID": 3, "playerID": "p3", "population": 500, "maxPopulation": 1000,
		"troops": 400, "gold": 9000, "conquestPercent": 12.5, "ownedCount": 80},
	"candidates": {
		"enemyNeighbors": [
			{"x": 1, "y": 2, "ownerSmallID": 7, "troops": 50},
			{"x": 1, "y": 3, "ownerSmallID": 7, "troops": 90},
			{"x": 4, "y": 4, "ownerSmallID": 9, "troops": 90}
		],
		"emptyNeighbors": [{"x": 5, "y": 5}]
	},
	"players": [{"smallID": 7, "playerID": "p7"}, {"smallID": 9, "playerID": "p9", "troops": 300}],
	"map": {"width": 100, "height": 80}
}`

func TestSnapshot(t *testing.T) {
	Convey("Given a decoded state frame", t, func() {
		var snap Snapshot
		So(json.Unmarshal([]byte(sampleState), &snap), ShouldBeNil)

		Convey("Basic fields decode", func() {
			So(snap.Tick, ShouldEqual, 42)
			So(snap.PopulationRatio(), ShouldAlmostEqual, 0.5)
			So(snap.HasPlaced(), ShouldBeTrue)
			So(snap.Army(), ShouldEqual, 400)
			So(snap.Map.Width, ShouldEqual, 100)
		})

		Convey("Opponents aggregate by owner, strongest first", func() {
			opponents := snap.Opponents()
			So(opponents, ShouldResemble, []Opponent{
				{SmallID: 9, Troops: 300},
				{SmallID: 7, Troops: 90},
			})
		})

		Convey("Candidates and roster resolve", func() {
			tile, ok := snap.FindCandidate(5, 5)
			So(ok, ShouldBeTrue)
			So(tile.OwnerSmallID, ShouldEqual, 0)
			_, ok = snap.FindCandidate(0, 0)
			So(ok, ShouldBeFalse)

			id, ok := snap.PlayerIDBySmallID(7)
			So(ok, ShouldBeTrue)
			So(id, ShouldEqual, "p7")
		})

		Convey("Population stands in for troops when troops are unreported", func() {
			snap.Me.Troops = 0
			So(snap.Army(), ShouldEqual, 500)
		})

		Convey("Fractional and null counts decode truncated", func() {
			var me Me
			So(json.Unmarshal([]byte(`{"population": 512.9, "troops": null, "gold": 7.2e3}`), &me), ShouldBeNil)
			So(me.Population, ShouldEqual, 512)
			So(me.Troops, ShouldEqual, 0)
			So(me.Gold, ShouldEqual, 7200)
		})

		Convey("An unplaced agent has no small id and no territory", func() {
			So((&Snapshot{}).HasPlaced(), ShouldBeFalse)
			So((&Snapshot{}).PopulationRatio(), ShouldEqual, 0)
		})
	})
}

func TestActionKeys(t *testing.T) {
	Convey("Action keys are stable identities", t, func() {
		So(Wait{}.Key(), ShouldEqual, WaitKey)
		So(Spawn{X: 3, Y: 4}.Key(), ShouldEqual, ActionKey("spawn:3,4"))
		So(Attack{Target: Tile{X: 1, Y: 2, OwnerSmallID: 5}, Ratio: 0.4}.Key(), ShouldEqual, ActionKey("attack:1,2|ratio:0.4"))
		So(Build{Kind: City}.Key(), ShouldEqual, ActionKey("build:city"))

		Convey("Owner changes do not change an attack's key", func() {
			a := Attack{Target: Tile{X: 1, Y: 2, OwnerSmallID: 5}, Ratio: 0.2}
			b := Attack{Target: Tile{X: 1, Y: 2, OwnerSmallID: 0}, Ratio: 0.2}
			So(a.Key(), ShouldEqual, b.Key())
		})

		Convey("Keys preserves order", func() {
			keys := Keys([]Action{Wait{}, Spawn{X: 1, Y: 1}})
			So(keys, ShouldResemble, []ActionKey{"none", "spawn:1,1"})
		})
	})
}
