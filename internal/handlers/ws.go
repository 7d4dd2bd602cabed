package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hlspackager/internal/broadcast"
	"hlspackager/internal/jobs"
	"hlspackager/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// pushWS streams job messages to one observer. The optional ?job= query
// restricts the stream to a single job.
func (a *App) pushWS(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("job")

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := a.hub.Subscribe(filter, func() models.PushMessage { return a.snapshot(filter) })
	go a.writePump(conn, sub)
	a.readPump(conn, sub)
}

func (a *App) snapshot(filter string) models.PushMessage {
	if filter == "" {
		return models.PushMessage{Type: models.MessageSnapshot, Jobs: a.jobs.Active()}
	}
	list := []models.TranscodeJob{}
	if job, ok := a.jobs.Get(filter); ok {
		list = append(list, job)
	}
	return models.PushMessage{Type: models.MessageSnapshot, Jobs: list}
}

// writePump is the only goroutine writing to conn.
func (a *App) writePump(conn *websocket.Conn, sub *broadcast.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription closed"))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump answers point status requests until the observer goes away.
func (a *App) readPump(conn *websocket.Conn, sub *broadcast.Subscription) {
	defer sub.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Debug("observer connection lost", "error", err)
			}
			return
		}
		if !sub.Send(a.answer(data)) {
			return
		}
	}
}

func (a *App) answer(data []byte) models.PushMessage {
	var req models.ClientRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return models.PushMessage{Type: models.MessageError, Error: "malformed request"}
	}
	if req.Type != string(models.MessageStatus) {
		return models.PushMessage{Type: models.MessageError, Error: "unknown request type: " + req.Type}
	}

	view, err := a.jobs.Status(req.ID)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return models.PushMessage{Type: models.MessageError, Error: "Video not found"}
	case err != nil:
		a.logger.Error("status lookup failed", "job_id", req.ID, "error", err)
		return models.PushMessage{Type: models.MessageError, Error: "Failed to fetch status"}
	}
	return models.PushMessage{Type: models.MessageStatus, Status: &view}
}
