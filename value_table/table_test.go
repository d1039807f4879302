package value_table

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"conquest/game_state"

	. "github.com/smartystreets/goconvey/convey"
)

func key(pop, terr int8) StateKey {
	return StateKey{Population: pop, Territory: terr}
}

func TestTableOps(t *testing.T) {
	Convey("Given an empty table", t, func() {
		table := New(filepath.Join(t.TempDir(), "q.tbl"))
		k := key(1, 2)

		Convey("Missing entries read as zero", func() {
			So(table.Get(k, "none"), ShouldEqual, 0)
			So(table.Max(k), ShouldEqual, 0)
			So(table.Contains(k), ShouldBeFalse)
		})

		Convey("Set creates both keys", func() {
			table.Set(k, "a", -3)
			table.Set(k, "b", -1)
			So(table.Get(k, "a"), ShouldEqual, -3)
			So(table.Max(k), ShouldEqual, -1)
			So(table.Len(), ShouldEqual, 1)
		})

		Convey("EnsureKeysExist is idempotent", func() {
			actions := []game_state.ActionKey{"none", "spawn:1,1"}
			table.EnsureKeysExist(k, actions)
			table.Set(k, "none", 4)
			table.EnsureKeysExist(k, actions)

			values, present := table.Values(k, append(actions, "missing"))
			So(values, ShouldResemble, []float64{4, 0, 0})
			So(present, ShouldResemble, []bool{true, true, false})
			So(table.Len(), ShouldEqual, 1)
		})

		Convey("Update is a read-modify-write from zero", func() {
			v := table.Update(k, "a", func(cur float64) float64 { return cur + 2.5 })
			So(v, ShouldEqual, 2.5)
			v = table.Update(k, "a", func(cur float64) float64 { return cur * 2 })
			So(v, ShouldEqual, 5)
		})

		Convey("Concurrent updates are not lost", func() {
			num_writers := 20
			num_ops := 500
			wg := sync.WaitGroup{}
			wg.Add(num_writers)
			for i := 0; i < num_writers; i++ {
				go func() {
					defer wg.Done()
					for j := 0; j < num_ops; j++ {
						table.Update(k, "a", func(cur float64) float64 { return cur + 1 })
						_ = table.Max(k)
					}
				}()
			}
			wg.Wait()
			So(table.Get(k, "a"), ShouldEqual, float64(num_writers*num_ops))
		})
	})
}

func TestNearest(t *testing.T) {
	Convey("Given a table of known states", t, func() {
		table := New(filepath.Join(t.TempDir(), "q.tbl"))

		Convey("An empty table has no match", func() {
			_, ok := table.Nearest(key(0, 0))
			So(ok, ShouldBeFalse)
		})

		Convey("The closest state by feature distance wins", func() {
			table.EnsureKeysExist(key(0, 0), nil)
			table.EnsureKeysExist(key(5, 5), nil)
			table.EnsureKeysExist(key(9, 9), nil)

			near, ok := table.Nearest(key(6, 4))
			So(ok, ShouldBeTrue)
			So(near, ShouldResemble, key(5, 5))

			near, _ = table.Nearest(key(9, 9))
			So(near, ShouldResemble, key(9, 9))
		})

		Convey("Ties go to the state seen first", func() {
			table.EnsureKeysExist(key(4, 0), nil)
			table.EnsureKeysExist(key(2, 0), nil)
			near, _ := table.Nearest(key(3, 0))
			So(near, ShouldResemble, key(4, 0))
		})

		Convey("Booleans and neighbors count toward distance", func() {
			a := StateKey{Placement: true, Neighbors: [NeighborSlots]int8{3, 3, 3}}
			b := StateKey{Placement: false, Neighbors: [NeighborSlots]int8{-3, -3, -3}}
			table.EnsureKeysExist(a, nil)
			table.EnsureKeysExist(b, nil)
			near, _ := table.Nearest(StateKey{Neighbors: [NeighborSlots]int8{-2, -3, -3}})
			So(near, ShouldResemble, b)
		})
	})
}

func TestPersistence(t *testing.T) {
	Convey("Given a table file path", t, func() {
		path := filepath.Join(t.TempDir(), "tables", "q.tbl")

		Convey("Loading a missing file starts fresh without error", func() {
			table := New(path)
			So(table.Load(), ShouldBeNil)
			So(table.Len(), ShouldEqual, 0)
		})

		Convey("Saving an empty clean table writes nothing", func() {
			So(New(path).Save(), ShouldBeNil)
			_, err := os.Stat(path)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("A saved table loads back in first-seen order", func() {
			table := New(path)
			table.Set(key(4, 0), "a", 1.5)
			table.Set(key(2, 0), "b", -2)
			So(table.Save(), ShouldBeNil)

			loaded := New(path)
			So(loaded.Load(), ShouldBeNil)
			So(loaded.Len(), ShouldEqual, 2)
			So(loaded.Get(key(4, 0), "a"), ShouldEqual, 1.5)
			So(loaded.Get(key(2, 0), "b"), ShouldEqual, -2)

			near, _ := loaded.Nearest(key(3, 0))
			So(near, ShouldResemble, key(4, 0))
		})

		Convey("An unreadable file degrades to an empty table", func() {
			So(os.MkdirAll(filepath.Dir(path), 0o755), ShouldBeNil)
			So(os.WriteFile(path, []byte("not a table"), 0o644), ShouldBeNil)

			table := New(path)
			table.Set(key(1, 1), "a", 1)
			err := table.Load()
			So(err, ShouldNotBeNil)
			So(table.Len(), ShouldEqual, 0)

			Convey("And the next save replaces it", func() {
				table.Set(key(1, 1), "a", 7)
				So(table.Save(), ShouldBeNil)
				fresh := New(path)
				So(fresh.Load(), ShouldBeNil)
				So(fresh.Get(key(1, 1), "a"), ShouldEqual, 7)
			})
		})

		Convey("A table file that cannot be read is not overwritten", func() {
			So(os.MkdirAll(path, 0o755), ShouldBeNil)

			table := New(path)
			table.Set(key(1, 1), "a", 3)
			err := table.Save()
			So(err, ShouldNotBeNil)
			So(errors.Is(err, ErrBadImage), ShouldBeFalse)

			info, statErr := os.Stat(path)
			So(statErr, ShouldBeNil)
			So(info.IsDir(), ShouldBeTrue)
			So(table.Len(), ShouldEqual, 1)
			So(table.Get(key(1, 1), "a"), ShouldEqual, 3)
		})

		Convey("Two independently mutated tables max-merge on save", func() {
			first := New(path)
			second := New(path)

			first.Set(key(1, 1), "a", 10)
			first.Set(key(1, 1), "b", -5)
			first.Set(key(2, 2), "a", 3)

			second.Set(key(1, 1), "a", 4)
			second.Set(key(1, 1), "b", 2)
			second.Set(key(3, 3), "c", -1)

			So(first.Save(), ShouldBeNil)
			So(second.Save(), ShouldBeNil)

			merged := New(path)
			So(merged.Load(), ShouldBeNil)
			So(merged.Get(key(1, 1), "a"), ShouldEqual, 10)
			So(merged.Get(key(1, 1), "b"), ShouldEqual, 2)
			So(merged.Get(key(2, 2), "a"), ShouldEqual, 3)
			So(merged.Get(key(3, 3), "c"), ShouldEqual, -1)

			Convey("And the later saver also holds the merged values in memory", func() {
				So(second.Get(key(1, 1), "a"), ShouldEqual, 10)
			})
		})

		Convey("Concurrent savers on the same file serialize", func() {
			num_savers := 8
			tables := make([]*Table, num_savers)
			for i := range tables {
				tables[i] = New(path)
				tables[i].Set(key(0, 0), "a", float64(i))
				tables[i].Set(key(int8(i), 1), "own", 1)
			}

			errs := make(chan error, num_savers)
			wg := sync.WaitGroup{}
			wg.Add(num_savers)
			for _, table := range tables {
				go func(table *Table) {
					defer wg.Done()
					errs <- table.Save()
				}(table)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				So(err, ShouldBeNil)
			}

			merged := New(path)
			So(merged.Load(), ShouldBeNil)
			So(merged.Get(key(0, 0), "a"), ShouldEqual, float64(num_savers-1))
			for i := 0; i < num_savers; i++ {
				So(merged.Get(key(int8(i), 1), "own"), ShouldEqual, 1)
			}
		})
	})
}

func TestOpen(t *testing.T) {
	Convey("Open returns one shared handle per path", t, func() {
		path := filepath.Join(t.TempDir(), "q.tbl")
		a := Open(path)
		b := Open(path)
		So(a, ShouldEqual, b)
		So(a.Path(), ShouldEqual, path)
	})
}
