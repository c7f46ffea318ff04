package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// HealthWSHandler returns an HTTP handler that upgrades to WebSocket and
// pushes HealthStats snapshots every 3 seconds. An immediate snapshot is
// sent on connection so the client never has to wait for the first tick.
func (m *Metrics) HealthWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // local debug tooling only
		})
		if err != nil {
			slog.Error("health WS upgrade failed", "error", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		m.activeConns.Add(1)
		m.ActiveConnections.Set(float64(m.activeConns.Load()))
		defer func() {
			m.activeConns.Add(-1)
			m.ActiveConnections.Set(float64(m.activeConns.Load()))
		}()

		slog.Info("health WS client connected")

		if err := m.sendHealthSnapshot(conn); err != nil {
			slog.Debug("health WS initial send failed", "error", err)
			return
		}

		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()

		disconnected := make(chan struct{})
		go func() {
			defer close(disconnected)
			for {
				_, _, err := conn.Read(context.Background())
				if err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-disconnected:
				slog.Info("health WS client disconnected")
				return
			case <-ticker.C:
				if err := m.sendHealthSnapshot(conn); err != nil {
					slog.Debug("health WS send failed", "error", err)
					return
				}
			}
		}
	}
}

// sendHealthSnapshot serializes the current HealthStats and writes it to the WebSocket.
func (m *Metrics) sendHealthSnapshot(conn *websocket.Conn) error {
	data, err := json.Marshal(m.GetHealthStats())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
