/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/portscanner/internal/storage"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	streamBufferSize = 256
)

// streamHub fans live probe outcomes out to every connected /ws/events
// client, dropping a slow subscriber's messages rather than blocking the
// controller's outcome bridge goroutine that feeds it.
type streamHub struct {
	mu   sync.Mutex
	subs map[chan storage.Outcome]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{subs: make(map[chan storage.Outcome]struct{})}
}

func (h *streamHub) subscribe() chan storage.Outcome {
	ch := make(chan storage.Outcome, streamBufferSize)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *streamHub) unsubscribe(ch chan storage.Outcome) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

// Broadcast publishes o to every current subscriber, non-blocking.
func (h *streamHub) Broadcast(o storage.Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- o:
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error().Err(err).Msg("failed to upgrade to websocket")
		}

		return
	}

	sub := s.hub.subscribe()

	go streamWriter(conn, sub)
	streamReader(conn, func() { s.hub.unsubscribe(sub) })
}

// streamWriter is the sole goroutine writing to conn: every outcome plus a
// periodic ping. gorilla/websocket connections are not safe for concurrent
// writers, so nothing else may call WriteJSON/WriteMessage on conn.
func streamWriter(conn *websocket.Conn, sub <-chan storage.Outcome) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close() //nolint:errcheck

	for {
		select {
		case o, ok := <-sub:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}

			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteJSON(o); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamReader discards client frames and detects disconnects; cleanup
// runs unsubscribe exactly once when the connection drops.
func streamReader(conn *websocket.Conn, cleanup func()) {
	defer cleanup()
	defer conn.Close() //nolint:errcheck

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
