package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"ballarena/server/internal/protocol"
	"ballarena/server/internal/session"
	"ballarena/server/internal/world"
)

// MessageDoc describes one WebSocket frame so client authors can check their
// encoder against the live server.
type MessageDoc struct {
	Name        string          `json:"name"`
	Direction   string          `json:"direction"`
	Description string          `json:"description"`
	Example     json.RawMessage `json:"example"`
}

const protocolDocsPath = "/api/protocol"

// protocolDocs renders every frame through the real codec so the samples
// cannot drift from the wire format.
func protocolDocs(constants world.Constants) ([]MessageDoc, error) {
	type entry struct {
		name, description string
		client            protocol.ClientMessage
		server            protocol.ServerMessage
	}
	entries := []entry{
		{name: "Join", description: "Rename the sender. An empty name falls back to the default PlayerN name.", client: protocol.Join{Name: "Alice"}},
		{name: "Move", description: "Queue a discrete move of distance units along (dx, dy). Ignored while a move is in flight.", client: protocol.Move{DX: 1, DY: 0, Distance: 120}},
		{name: "Input", description: "Retired continuous steering. Accepted and ignored.", client: protocol.Input{DX: 0, DY: 1, SequenceNumber: 7}},
		{name: "Ready", description: "Mark the sender ready. Play starts once every player is ready.", client: protocol.Ready{}},
		{name: "Quit", description: "End the session.", client: protocol.Quit{}},
		{name: "Welcome", description: "Sent once after admission with the assigned id and world constants.", server: protocol.Welcome{PlayerID: 1, Constants: constants}},
		{name: "StateUpdate", description: "Full world snapshot, sent every tick.", server: protocol.StateUpdate{Snapshot: world.Snapshot{Status: world.StatusWaitingToStart, Constants: constants}}},
		{name: "Bye", description: "Sent before a server-initiated close.", server: protocol.Bye{Reason: session.ByeConsumed}},
	}
	docs := make([]MessageDoc, 0, len(entries))
	for _, e := range entries {
		var (
			frame     []byte
			err       error
			direction = "client"
		)
		if e.client != nil {
			frame, err = protocol.EncodeClient(e.client)
		} else {
			direction = "server"
			frame, err = protocol.EncodeServer(e.server)
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, MessageDoc{Name: e.name, Direction: direction, Description: e.description, Example: frame})
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Direction == docs[j].Direction {
			return strings.Compare(docs[i].Name, docs[j].Name) < 0
		}
		return docs[i].Direction < docs[j].Direction
	})
	return docs, nil
}

// protocolDocsHandler serves the frame catalogue as JSON.
func protocolDocsHandler(constants world.Constants) http.HandlerFunc {
	docs, docsErr := protocolDocs(constants)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if docsErr != nil {
			http.Error(w, docsErr.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(docs)
	}
}
