package main

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoadOptions(t *testing.T) {
	Convey("When no flags are given", t, func() {
		opts, err := loadOptions(nil)
		So(err, ShouldBeNil)
		So(opts.mode, ShouldEqual, modeClient)
		So(opts.url, ShouldEqual, "ws://localhost:3000/bot")
		So(opts.listen, ShouldEqual, ":8765")
		So(opts.autosave, ShouldEqual, 300*time.Second)
		So(opts.queue, ShouldEqual, 1)
		So(opts.debug, ShouldBeFalse)
	})

	Convey("When flags are given", t, func() {
		opts, err := loadOptions([]string{"--mode", "server", "--autosave", "30s", "--debug"})
		So(err, ShouldBeNil)
		So(opts.mode, ShouldEqual, modeServer)
		So(opts.autosave, ShouldEqual, 30*time.Second)
		So(opts.debug, ShouldBeTrue)
	})

	Convey("When the environment overrides a default", t, func() {
		t.Setenv("CONQUEST_TABLE", "/tmp/shared.tbl")
		t.Setenv("CONQUEST_QUEUE", "4")
		opts, err := loadOptions(nil)
		So(err, ShouldBeNil)
		So(opts.table, ShouldEqual, "/tmp/shared.tbl")
		So(opts.queue, ShouldEqual, 4)
	})

	Convey("When the mode is unknown", t, func() {
		_, err := loadOptions([]string{"--mode", "spectator"})
		So(err, ShouldNotBeNil)
	})
}
