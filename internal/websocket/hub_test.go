package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/club-ranklist/internal/testutil"
	gorilla "github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

func dial(t *testing.T, server *httptest.Server) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func readMessage(conn *gorilla.Conn) (Message, error) {
	var msg Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	err = json.Unmarshal(data, &msg)
	return msg, err
}

func TestHub(t *testing.T) {
	Convey("Given a running hub behind a websocket endpoint", t, func() {
		logger := testutil.DiscardLogger()
		hub := NewHub(logger)
		go hub.Run()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ServeWs(hub, logger, w, r)
		}))
		Reset(func() {
			server.Close()
			hub.Stop()
		})

		conn := dial(t, server)
		defer conn.Close()
		So(waitFor(func() bool { return hub.GetTotalConnections() == 1 }), ShouldBeTrue)

		Convey("When the client subscribes to a ranklist", func() {
			So(conn.WriteJSON(map[string]interface{}{"type": "subscribe", "ranklist_id": 7}), ShouldBeNil)

			ack, err := readMessage(conn)
			So(err, ShouldBeNil)
			So(ack.Type, ShouldEqual, "subscribed")
			So(ack.RankListID, ShouldEqual, 7)
			So(waitFor(func() bool { return hub.GetSubscriberCount(7) == 1 }), ShouldBeTrue)

			Convey("Then an update for that ranklist is delivered", func() {
				hub.BroadcastRankListUpdate(7, "join")

				msg, err := readMessage(conn)
				So(err, ShouldBeNil)
				So(msg.Type, ShouldEqual, MessageTypeRankListUpdate)
				So(msg.RankListID, ShouldEqual, 7)
				So(msg.Data, ShouldResemble, map[string]interface{}{"reason": "join"})
			})

			Convey("Then updates for other ranklists are not delivered", func() {
				hub.BroadcastRankListUpdate(8, "join")
				hub.BroadcastRankListUpdate(7, "leave")

				msg, err := readMessage(conn)
				So(err, ShouldBeNil)
				So(msg.RankListID, ShouldEqual, 7)
				So(msg.Data, ShouldResemble, map[string]interface{}{"reason": "leave"})
			})

			Convey("Then unsubscribing removes the subscription", func() {
				So(conn.WriteJSON(map[string]interface{}{"type": "unsubscribe", "ranklist_id": 7}), ShouldBeNil)
				So(waitFor(func() bool { return hub.GetSubscriberCount(7) == 0 }), ShouldBeTrue)
			})
		})

		Convey("When the client subscribes without a ranklist", func() {
			So(conn.WriteJSON(map[string]interface{}{"type": "subscribe"}), ShouldBeNil)

			Convey("Then an error is returned", func() {
				msg, err := readMessage(conn)
				So(err, ShouldBeNil)
				So(msg.Type, ShouldEqual, MessageTypeError)
			})
		})

		Convey("When the client pings", func() {
			So(conn.WriteJSON(map[string]interface{}{"type": "ping"}), ShouldBeNil)

			Convey("Then a pong comes back", func() {
				msg, err := readMessage(conn)
				So(err, ShouldBeNil)
				So(msg.Type, ShouldEqual, MessageTypePong)
			})
		})

		Convey("When the client disconnects", func() {
			conn.Close()

			Convey("Then it is unregistered", func() {
				So(waitFor(func() bool { return hub.GetTotalConnections() == 0 }), ShouldBeTrue)
			})
		})
	})
}

func TestStoppedHub(t *testing.T) {
	Convey("Given a hub that has been stopped", t, func() {
		hub := NewHub(testutil.DiscardLogger())
		go hub.Run()
		hub.Stop()
		client := &Client{id: "late", hub: hub, send: make(chan []byte, 1)}

		Convey("Then registration calls return instead of blocking", func() {
			done := make(chan struct{})
			go func() {
				hub.Register(client)
				hub.Subscribe(client, 1)
				hub.Unsubscribe(client, 1)
				hub.Unregister(client)
				close(done)
			}()

			var returned bool
			select {
			case <-done:
				returned = true
			case <-time.After(2 * time.Second):
			}
			So(returned, ShouldBeTrue)
		})
	})
}
