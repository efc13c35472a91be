package feedsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// optional push channel: the backend announces entity changes made by other
// clients and this feed turns them into tag invalidations. the cache is fully
// functional without it.

type LiveInvalidationSettings struct {
	WsHandshakeTimeout time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultLiveInvalidationSettings() *LiveInvalidationSettings {
	return &LiveInvalidationSettings{
		WsHandshakeTimeout: 2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

type LiveEvent struct {
	Entity EntityType `json:"entity"`
	Id     EntityId   `json:"id,omitempty"`
	All    bool       `json:"all,omitempty"`
}

func (self *LiveEvent) Tag() Tag {
	if self.All {
		return CollectionTag(self.Entity)
	}
	return EntityTag(self.Entity, self.Id)
}

type LiveInvalidation struct {
	ctx    context.Context
	cancel context.CancelFunc

	client  *Client
	liveUrl string

	settings *LiveInvalidationSettings
}

func NewLiveInvalidationWithDefaults(ctx context.Context, client *Client, liveUrl string) *LiveInvalidation {
	return NewLiveInvalidation(ctx, client, liveUrl, DefaultLiveInvalidationSettings())
}

func NewLiveInvalidation(ctx context.Context, client *Client, liveUrl string, settings *LiveInvalidationSettings) *LiveInvalidation {
	cancelCtx, cancel := context.WithCancel(ctx)

	live := &LiveInvalidation{
		ctx:      cancelCtx,
		cancel:   cancel,
		client:   client,
		liveUrl:  liveUrl,
		settings: settings,
	}
	go live.run()
	return live
}

func (self *LiveInvalidation) run() {
	for {
		self.connectAndRead()

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

func (self *LiveInvalidation) connectAndRead() {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(self.ctx, self.liveUrl, nil)
	if err != nil {
		glog.Infof("[live]connect error = %s\n", err)
		return
	}

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()
	go func() {
		defer ws.Close()
		<-handleCtx.Done()
	}()

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	})

	go func() {
		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingTimeout):
			}
			deadline := time.Now().Add(self.settings.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// note that for websocket a deadline timeout cannot be recovered
				handleCancel()
				return
			}
		}
	}()

	for {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[live]read error = %s\n", err)
			return
		}
		switch messageType {
		case websocket.TextMessage:
			var event LiveEvent
			if err := json.Unmarshal(message, &event); err != nil {
				glog.Infof("[live]malformed event = %s\n", err)
				continue
			}
			if event.Entity == "" {
				continue
			}
			glog.V(2).Infof("[live]event %s\n", event.Tag())
			self.client.Invalidate([]Tag{event.Tag()})
		}
		// ignore binary messages
	}
}

func (self *LiveInvalidation) Close() {
	self.cancel()
}
