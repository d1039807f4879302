package game_state

import (
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStoreUpdate(t *testing.T) {
	Convey("When snapshots are stored", t, func() {
		store := NewStore()
		So(store.Current(), ShouldBeNil)
		So(store.Previous(), ShouldBeNil)

		five := &Snapshot{Tick: 5}
		So(store.Update(five), ShouldBeTrue)
		So(store.Current(), ShouldEqual, five)

		Convey("A repeated tick is discarded", func() {
			again := &Snapshot{Tick: 5, InSpawnPhase: true}
			So(store.Update(again), ShouldBeFalse)
			So(store.Current(), ShouldEqual, five)
			So(store.Previous(), ShouldBeNil)
		})

		Convey("A stale tick is discarded", func() {
			So(store.Update(&Snapshot{Tick: 3}), ShouldBeFalse)
			So(store.Current(), ShouldEqual, five)
		})

		Convey("A newer tick becomes current and the old one previous", func() {
			six := &Snapshot{Tick: 6}
			So(store.Update(six), ShouldBeTrue)
			So(store.Current(), ShouldEqual, six)
			So(store.Previous(), ShouldEqual, five)
		})

		Convey("Reset allows tick numbering to restart", func() {
			store.Reset()
			So(store.Current(), ShouldBeNil)
			So(store.Update(&Snapshot{Tick: 1}), ShouldBeTrue)
		})

		Convey("Nil snapshots are ignored", func() {
			So(store.Update(nil), ShouldBeFalse)
			So(store.Current(), ShouldEqual, five)
		})
	})
}

func TestStoreChanged(t *testing.T) {
	Convey("When a reader waits for a change", t, func() {
		store := NewStore()

		Convey("The channel closes on an accepted update", func() {
			changed := store.Changed()
			store.Update(&Snapshot{Tick: 1})
			select {
			case <-changed:
			case <-time.After(time.Second):
				t.Fatal("waiter was not woken")
			}
		})

		Convey("The channel stays open on a rejected update", func() {
			store.Update(&Snapshot{Tick: 2})
			changed := store.Changed()
			store.Update(&Snapshot{Tick: 2})
			select {
			case <-changed:
				t.Fatal("duplicate tick woke the waiter")
			default:
			}
		})

		Convey("Many waiters are woken by one update", func() {
			num_waiters := 50
			changed := store.Changed()
			wg := sync.WaitGroup{}
			wg.Add(num_waiters)
			for i := 0; i < num_waiters; i++ {
				go func() {
					defer wg.Done()
					<-changed
				}()
			}
			store.Update(&Snapshot{Tick: 10})
			wg.Wait()
			So(store.Current().Tick, ShouldEqual, 10)
		})
	})
}
