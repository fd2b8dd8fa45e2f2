package server

import (
	"encoding/json"
	"sync"

	"github.com/bosley/recordnote/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Message is the envelope pushed to WebSocket clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Client is one connected WebSocket subscriber.
type Client struct {
	ID   uuid.UUID
	Addr string
	send chan []byte
}

// ClientList tracks the connected subscribers and fans snapshots out to
// them.
type ClientList struct {
	clients map[uuid.UUID]*Client
	mu      sync.RWMutex
}

func NewClientList() *ClientList {
	return &ClientList{
		clients: make(map[uuid.UUID]*Client),
	}
}

// Join adds client with the current snapshot queued as its first message.
// Taking the snapshot under the lock means no published change is missed.
func (cl *ClientList) Join(client *Client, current func() session.Snapshot) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	data, err := stateMessage(current())
	if err != nil {
		return err
	}
	client.send <- data
	cl.clients[client.ID] = client
	return nil
}

// Remove drops the client and closes its send queue, which ends its write
// pump.
func (cl *ClientList) Remove(id uuid.UUID) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if client, ok := cl.clients[id]; ok {
		delete(cl.clients, id)
		close(client.send)
	}
}

func (cl *ClientList) Get(id uuid.UUID) (*Client, bool) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	client, ok := cl.clients[id]
	return client, ok
}

func (cl *ClientList) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.clients)
}

// Publish sends snap to every client. A client whose queue is full is
// disconnected rather than allowed to stall the session.
func (cl *ClientList) Publish(snap session.Snapshot) {
	data, err := stateMessage(snap)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode session snapshot")
		return
	}

	var slow []uuid.UUID
	cl.mu.RLock()
	for id, client := range cl.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, id)
		}
	}
	cl.mu.RUnlock()

	for _, id := range slow {
		log.Warn().Str("client_id", id.String()).Msg("Dropping slow WebSocket client")
		cl.Remove(id)
	}
}

// CloseAll disconnects every client.
func (cl *ClientList) CloseAll() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for id, client := range cl.clients {
		delete(cl.clients, id)
		close(client.send)
	}
}

func stateMessage(snap session.Snapshot) ([]byte, error) {
	return json.Marshal(Message{Type: "state", Payload: snap})
}
