package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"conquest/metrics"
	"conquest/protocol"
	"conquest/reinforcement"
	"conquest/session"
	"conquest/value_table"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

const placementFrame = `{"type":"state","tick":1,"inSpawnPhase":true,"me":{"smallID":0},
	"candidates":{"emptyNeighbors":[{"x":4,"y":2}]},"map":{"width":10,"height":10}}`

func testServer(t *testing.T) (*Server, *metrics.Recorder) {
	table := value_table.New(filepath.Join(t.TempDir(), "q.tbl"))
	params := reinforcement.DefaultParams()
	params.Epsilon = 0
	params.EpsilonMin = 0
	policy := reinforcement.NewPolicy(table, params, reinforcement.WithSeed(5))
	recorder := metrics.NewRecorder(nil)

	cfg := session.DefaultConfig()
	cfg.KeepAlive = 0
	return NewServer(":0", policy, recorder, cfg), recorder
}

func TestStats(t *testing.T) {
	Convey("Given a fresh server", t, func() {
		server, _ := testServer(t)
		ts := httptest.NewServer(server.Handler())
		defer ts.Close()

		Convey("GET /stats reports the table and epsilon", func() {
			resp, err := http.Get(ts.URL + "/stats")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(resp.Header.Get("Content-Type"), ShouldEqual, "application/json")

			var stats Stats
			So(json.NewDecoder(resp.Body).Decode(&stats), ShouldBeNil)
			So(stats.States, ShouldEqual, 0)
			So(stats.Epsilon, ShouldEqual, 0)
			So(stats.ActiveSessions, ShouldEqual, 0)
			So(stats.Games.TotalGames, ShouldEqual, 0)
		})

		Convey("Other methods are refused", func() {
			resp, err := http.Post(ts.URL+"/stats", "application/json", strings.NewReader("{}"))
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("A plain request to /bot is not upgraded", func() {
			resp, err := http.Get(ts.URL + "/bot")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestBotSession(t *testing.T) {
	Convey("Given a plugin connected over a websocket", t, func() {
		server, recorder := testServer(t)
		ts := httptest.NewServer(server.Handler())
		defer ts.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/bot"
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		So(err, ShouldBeNil)
		defer ws.Close()

		So(ws.WriteJSON(protocol.NewHello("plugin1", "p1", "plugin")), ShouldBeNil)

		Convey("A placement frame is answered with a bare spawn action", func() {
			So(ws.WriteMessage(websocket.TextMessage, []byte(placementFrame)), ShouldBeNil)

			_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
			var action protocol.ActionMsg
			So(ws.ReadJSON(&action), ShouldBeNil)
			So(action, ShouldResemble, protocol.ActionMsg{Type: "spawn", X: 4, Y: 2})

			Convey("And closing the socket ends and records the game", func() {
				deadline := time.Now().Add(5 * time.Second)
				for server.Stats().States == 0 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}

				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = ws.Close()

				deadline = time.Now().Add(5 * time.Second)
				for recorder.Summary().TotalGames == 0 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				summary := recorder.Summary()
				So(summary.TotalGames, ShouldEqual, 1)
				So(summary.Last.Outcome, ShouldEqual, "disconnected")
				So(server.Stats().States, ShouldBeGreaterThanOrEqualTo, 1)
			})
		})
	})
}

func TestLive(t *testing.T) {
	Convey("Given a viewer on /live", t, func() {
		server, _ := testServer(t)
		server.liveResolution = 5 * time.Millisecond
		ts := httptest.NewServer(server.Handler())
		defer ts.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live"
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		So(err, ShouldBeNil)
		defer ws.Close()
		_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

		Convey("The current stats arrive on connect, and again when they change", func() {
			var first Stats
			So(ws.ReadJSON(&first), ShouldBeNil)
			So(first.States, ShouldEqual, 0)

			server.policy.Table().Set(value_table.StateKey{Population: 2}, "none", 1)

			var next Stats
			So(ws.ReadJSON(&next), ShouldBeNil)
			So(next.States, ShouldEqual, 1)
		})
	})
}
