package handler

import (
	"context"
	"time"

	"clipfactory/internal/events"
	"clipfactory/internal/pipeline"
	"clipfactory/internal/response"
	"clipfactory/internal/types"
	"clipfactory/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 15 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

// A pipeline job is settled once its chain ended and none of its exports
// are still in flight.
func settled(st *pipeline.Status) bool {
	switch st.State {
	case "completed", "failed", "done":
		return st.PendingExports == 0
	}
	return false
}

// streamEnded reports whether ev is the last event a client of this stream
// will see. An export stream ends with its export. A pipeline stream ends on
// a chain failure, or once texts and every export of the root have settled.
func (h Handler) streamEnded(ctx context.Context, kind, id string, ev events.Event) bool {
	if kind != "pipeline" {
		return ev.Terminal()
	}
	if ev.Stage != types.StageExport && ev.Kind == events.KindFailed {
		return true
	}
	if !ev.Terminal() || (ev.Stage != types.StageTexts && ev.Stage != types.StageExport) {
		return false
	}
	st, err := h.Service.Status(ctx, id)
	if err != nil {
		log.GetLogger().Warn("stream: status refresh failed", zap.String("id", id), zap.Error(err))
		return true
	}
	return settled(st)
}

// openStream resolves the job, then subscribes to its topic. Pipeline jobs
// listen on the root topic so the exports fanned out for the root are
// relayed too. The returned status is the snapshot sent to the client first.
func (h Handler) openStream(ctx context.Context, id string) (*pipeline.Status, <-chan events.Event, func(), error) {
	st, err := h.Service.Status(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if settled(st) {
		return st, nil, func() {}, nil
	}
	topic := events.JobTopic(id)
	if st.Kind == "pipeline" {
		topic = events.RootTopic(id)
	}
	ch, cancel, err := h.Bus.Subscribe(ctx, topic)
	if err != nil {
		return nil, nil, nil, err
	}
	return st, ch, cancel, nil
}

// StreamEvents relays job events as server-sent events until the job
// settles or the client goes away.
func (h Handler) StreamEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	st, ch, cancel, err := h.openStream(ctx, id)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("status", toStatusData(st))
	c.Writer.Flush()
	if ch == nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().Unix())
			c.Writer.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Kind), ev)
			c.Writer.Flush()
			if h.streamEnded(ctx, st.Kind, id, ev) {
				return
			}
		}
	}
}

// StreamEventsWS sends the same events as StreamEvents over a websocket.
func (h Handler) StreamEventsWS(c *gin.Context) {
	id := c.Param("id")
	ctx, stop := context.WithCancel(c.Request.Context())
	defer stop()

	st, ch, cancel, err := h.openStream(ctx, id)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.GetLogger().Warn("StreamEventsWS upgrade failed", zap.String("id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	// Reads only detect the client closing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				stop()
				return
			}
		}
	}()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			log.GetLogger().Debug("StreamEventsWS write failed", zap.String("id", id), zap.Error(err))
			return false
		}
		return true
	}

	if !write(gin.H{"kind": "status", "status": toStatusData(st)}) || ch == nil {
		closeNormally(conn)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok || !write(ev) {
				return
			}
			if h.streamEnded(ctx, st.Kind, id, ev) {
				closeNormally(conn)
				return
			}
		}
	}
}

func closeNormally(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
