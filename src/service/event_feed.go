package service

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mosaicnetworks/rewind/src/session"
	"github.com/sirupsen/logrus"
)

const (
	feedBuffer   = 256
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FeedMessage is the JSON document sent for every event.
type FeedMessage struct {
	Kind  session.EventKind
	Event session.Event
}

type feedClient struct {
	ws   *websocket.Conn
	send chan []byte
}

// EventFeed broadcasts session events to websocket clients. Slow clients miss
// events rather than slow down the session.
type EventFeed struct {
	sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
	logger  *logrus.Entry
}

// NewEventFeed creates an EventFeed without clients.
func NewEventFeed(logger *logrus.Entry) *EventFeed {
	return &EventFeed{
		clients: make(map[*feedClient]struct{}),
		logger:  logger,
	}
}

// ServeHTTP upgrades the request to a websocket and subscribes it.
func (f *EventFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Debug("Upgrading events connection")
		return
	}

	c := &feedClient{
		ws:   ws,
		send: make(chan []byte, feedBuffer),
	}

	f.Lock()
	if f.closed {
		f.Unlock()
		ws.Close()
		return
	}
	f.clients[c] = struct{}{}
	f.Unlock()

	f.logger.WithField("remote", r.RemoteAddr).Debug("Events subscriber")

	go f.writePump(c)
	go f.readPump(c)
}

// Publish sends events to every client.
func (f *EventFeed) Publish(events []session.Event) {
	if len(events) == 0 {
		return
	}

	f.Lock()
	defer f.Unlock()

	if len(f.clients) == 0 {
		return
	}

	for _, e := range events {
		msg, err := json.Marshal(FeedMessage{Kind: e.Kind(), Event: e})
		if err != nil {
			f.logger.WithError(err).Error("Encoding event")
			continue
		}
		for c := range f.clients {
			select {
			case c.send <- msg:
			default:
			}
		}
	}
}

func (f *EventFeed) remove(c *feedClient) {
	f.Lock()
	defer f.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

func (f *EventFeed) writePump(c *feedClient) {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			f.remove(c)
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump only notices the client going away.
func (f *EventFeed) readPump(c *feedClient) {
	defer f.remove(c)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// Close disconnects every client.
func (f *EventFeed) Close() {
	f.Lock()
	defer f.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}
