package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"occrlend/core/events"
	"occrlend/core/types"
)

const (
	wsWriteTimeout   = 10 * time.Second
	streamBufferSize = 64
)

// Stream fans committed events out to websocket subscribers. Slow
// subscribers drop events rather than stall the node.
type Stream struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	account string
	ch      chan *types.Event
}

func NewStream() *Stream {
	return &Stream{clients: make(map[*streamClient]struct{})}
}

// Emit implements events.Emitter.
func (s *Stream) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if client.account != "" && payload.Attr("account") != client.account {
			continue
		}
		select {
		case client.ch <- payload.Clone():
		default:
		}
	}
}

func (s *Stream) subscribe(account string) *streamClient {
	client := &streamClient{account: account, ch: make(chan *types.Event, streamBufferSize)}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	return client
}

func (s *Stream) unsubscribe(client *streamClient) {
	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
}

// Subscribers reports the number of connected clients.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	var account string
	if raw := strings.TrimSpace(r.URL.Query().Get("account")); raw != "" {
		addr, err := parseAddressParam(raw, "account")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		account = hexAddr(addr)
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	client := s.stream.subscribe(account)
	defer s.stream.unsubscribe(client)

	// Inbound frames are ignored; CloseRead surfaces peer disconnects.
	ctx := conn.CloseRead(r.Context())
	if err := pumpEvents(ctx, conn, client.ch); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func pumpEvents(ctx context.Context, conn *websocket.Conn, updates <-chan *types.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-updates:
			data, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
