// Votebox room coordinator
//
// Each room is a single logical actor: every inbound client message for a
// room is handled one at a time, in arrival order, by the room's run loop.
// That serialization is the only concurrency-correctness mechanism a room
// needs; no locks guard the canonical state.
//
// Features:
// - WebSockets per room ID: /room/:roomid and /room/:roomid/ws
// - Repeated anonymous voting rounds with auto-reveal once everyone voted
// - Ranked-choice (instant-runoff) election of a successor host
// - Bounded chat log with templated system announcements
// - Soft-deleted participants so a client-held token can rejoin later
// - Full state blob persisted to sqlite after every mutation
// - Read-only JSON snapshot at /room/:roomid/state, no upgrade required
// - Idle room actors evicted after a configurable timeout; state survives
//   eviction and is reloaded on next contact
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"log"
	mrand "math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Client struct {
	conn *websocket.Conn
	send chan []byte

	// participantID is the connection-scoped identity mapping. It is set
	// by the room goroutine during join handling and only read from there.
	participantID string
}

type inboundMessage struct {
	client *Client
	data   []byte
}

type snapshotRequest struct {
	reply chan snapshotResult
}

type snapshotResult struct {
	snapshot RoomSnapshot
	err      error
}

// RoomSnapshot is the read-only view served over plain HTTP.
type RoomSnapshot struct {
	RoomID       string            `json:"room_id"`
	Participants []ParticipantView `json:"participants"`
	Revealed     bool              `json:"revealed"`
	RoundNumber  int               `json:"round_number"`
	HostID       string            `json:"host_id,omitempty"`
}

type Room struct {
	id      string
	cfg     *Config
	store   *Store
	manager *RoomManager
	rng     *mrand.Rand

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	snapshots  chan snapshotRequest
	done       chan struct{}

	clients map[*Client]bool
	state   *RoomState

	lastActive atomic.Int64
}

func newRoom(id string, cfg *Config, store *Store, manager *RoomManager, rng *mrand.Rand) *Room {
	r := &Room{
		id:         id,
		cfg:        cfg,
		store:      store,
		manager:    manager,
		rng:        rng,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundMessage),
		snapshots:  make(chan snapshotRequest),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
	r.touch()
	return r
}

func (r *Room) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

func (r *Room) idle(cutoff time.Time) bool {
	return time.Unix(0, r.lastActive.Load()).Before(cutoff)
}

func (r *Room) run() {
	for {
		select {
		case c := <-r.register:
			r.touch()
			r.clients[c] = true

		case c := <-r.unregister:
			r.touch()
			if _, ok := r.clients[c]; ok {
				r.drop(c)
			}

		case in := <-r.inbound:
			r.dispatch(in)

		case req := <-r.snapshots:
			req.reply <- r.takeSnapshot()

		case <-r.done:
			r.shutdown()
			return
		}
	}
}

// shutdown disconnects everyone, then keeps servicing the room's channels
// for a grace period so in-flight pump goroutines can detach cleanly.
func (r *Room) shutdown() {
	r.closeAll()
	r.store.Evict(r.id)

	grace := time.After(10 * time.Second)
	for {
		select {
		case c := <-r.register:
			close(c.send)
			_ = c.conn.Close()
		case <-r.unregister:
		case <-r.inbound:
		case req := <-r.snapshots:
			req.reply <- snapshotResult{err: errors.New("room closed")}
		case <-grace:
			return
		}
	}
}

func (r *Room) closeAll() {
	for c := range r.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(r.clients, c)
	}
}

func (r *Room) drop(c *Client) {
	delete(r.clients, c)
	close(c.send)
}

// roomState lazily loads the canonical state through the store's memoized
// single-flight loader.
func (r *Room) roomState() (*RoomState, error) {
	if r.state != nil {
		return r.state, nil
	}

	st, err := r.store.State(r.id)
	if err != nil {
		return nil, err
	}
	r.state = st
	return st, nil
}

// persist writes the state blob through before any broadcast is considered
// complete, so an acknowledged mutation survives a reload.
func (r *Room) persist(st *RoomState) {
	if err := r.store.Save(r.id, st); err != nil {
		logf(r.cfg, "ERROR: Persisting room %s: %v", r.id, err)
	}
}

// sendTo serializes a message for a single client, dropping the client if
// its send buffer is full.
func (r *Room) sendTo(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	if _, ok := r.clients[c]; !ok {
		return
	}

	select {
	case c.send <- data:
	default:
		r.drop(c)
	}
}

// broadcast serializes a message once and fans it out to every connected
// socket except the optional excluded one. Failed recipients are dropped
// without aborting the fan-out.
func (r *Room) broadcast(v any, exclude *Client) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	for c := range r.clients {
		if c == exclude {
			continue
		}
		select {
		case c.send <- data:
		default:
			r.drop(c)
		}
	}
}

func (r *Room) dispatch(in inboundMessage) {
	r.touch()

	var msg ClientMessage
	if err := json.Unmarshal(in.data, &msg); err != nil {
		logf(r.cfg, "ROOMS: Dropping malformed message in %s: %v", r.id, err)
		return
	}

	// Pings carry no state effect and never touch the blob.
	if msg.Type == "ping" {
		r.sendTo(in.client, PongMessage{Type: "pong"})
		return
	}

	st, err := r.roomState()
	if err != nil {
		logf(r.cfg, "ERROR: Loading room %s: %v", r.id, err)
		return
	}

	switch msg.Type {
	case "join":
		r.handleJoin(st, in.client, msg)
	case "vote":
		r.handleVote(st, in.client, msg)
	case "reset":
		r.handleReset(st, in.client)
	case "chat":
		r.handleChat(st, in.client, msg)
	case "kick":
		r.handleKick(st, in.client, msg)
	case "leave":
		r.handleLeave(st, in.client)
	case "host_vote":
		r.handleHostVote(st, in.client, msg)
	case "burn":
		r.handleBurn(st, in.client)
	case "get_stats":
		r.handleGetStats(st, in.client)
	default:
		logf(r.cfg, "ROOMS: Ignoring unknown message type %q in %s", msg.Type, r.id)
	}
}

// handleBurn destroys the room: terminal notice first, then every socket is
// force-closed and the durable blob is wiped.
func (r *Room) handleBurn(st *RoomState, c *Client) {
	if st.HostID == "" || c.participantID != st.HostID {
		return
	}

	logf(r.cfg, "ROOMS: Room %s burned by host", r.id)

	r.broadcast(RoomBurnedMessage{
		Type:    "room_burned",
		Message: "This room has been destroyed by the host.",
	}, nil)

	r.closeAll()

	if err := r.store.Delete(r.id); err != nil {
		logf(r.cfg, "ERROR: Deleting room %s: %v", r.id, err)
	}
	r.state = nil

	r.manager.remove(r.id)
}

func (r *Room) takeSnapshot() snapshotResult {
	st, err := r.roomState()
	if err != nil {
		return snapshotResult{err: err}
	}

	return snapshotResult{snapshot: RoomSnapshot{
		RoomID:       r.id,
		Participants: st.participantViews(""),
		Revealed:     st.Revealed,
		RoundNumber:  st.RoundNumber,
		HostID:       st.HostID,
	}}
}

func (c *Client) readPump(r *Room) {
	defer func() {
		r.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		r.inbound <- inboundMessage{client: c, data: data}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// RoomManager holds the resident room actors keyed by room ID. Rooms are
// created on first contact and evicted when idle; their durable state
// outlives the actor.
type RoomManager struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	cfg         *Config
	store       *Store
	idleTimeout time.Duration
}

func newRoomManager(cfg *Config, store *Store) *RoomManager {
	m := &RoomManager{
		rooms:       make(map[string]*Room),
		cfg:         cfg,
		store:       store,
		idleTimeout: cfg.sessionTimeout,
	}
	if m.idleTimeout > 0 {
		go m.reaperLoop()
	}
	return m
}

func (m *RoomManager) room(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[roomID]; ok {
		return r
	}

	r := newRoom(roomID, m.cfg, m.store, m, mrand.New(mrand.NewSource(time.Now().UnixNano())))
	m.rooms[roomID] = r
	go r.run()
	return r
}

func (m *RoomManager) remove(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[roomID]; ok {
		delete(m.rooms, roomID)
		close(r.done)
	}
}

// newRoomID generates a crypto-random room ID, avoiding collisions with
// both resident actors and persisted rooms.
func (m *RoomManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		m.mu.Lock()
		_, resident := m.rooms[id]
		m.mu.Unlock()
		if resident {
			continue
		}

		persisted, err := m.store.Exists(id)
		if err != nil {
			log.Println("room id collision check failed:", err)
			return id
		}
		if !persisted {
			return id
		}
	}
}

// reaperLoop periodically evicts room actors that have been idle longer
// than idleTimeout. Their state stays in sqlite and is reloaded on next
// contact.
func (m *RoomManager) reaperLoop() {
	ticker := time.NewTicker(m.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-m.idleTimeout)

		m.mu.Lock()
		for id, r := range m.rooms {
			if r.idle(cutoff) {
				logf(m.cfg, "ROOMS: Evicting idle room %s", id)
				delete(m.rooms, id)
				close(r.done)
			}
		}
		m.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveRoomSocket upgrades a connection and attaches it to the room actor
// picked by :roomid.
func serveRoomSocket(cfg *Config, m *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		room := m.room(roomID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan []byte, 16),
		}

		room.register <- client

		go client.writePump()
		client.readPump(room)
	}
}

// serveRoomSnapshot returns a read-only view of a room as JSON, routed
// through the room actor so reads never interleave with a mutation.
func serveRoomSnapshot(cfg *Config, m *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		room := m.room(roomID)
		req := snapshotRequest{reply: make(chan snapshotResult, 1)}

		select {
		case room.snapshots <- req:
		case <-time.After(5 * time.Second):
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}

		var res snapshotResult
		select {
		case res = <-req.reply:
		case <-time.After(5 * time.Second):
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}

		if res.err != nil {
			http.Error(w, "failed to load room", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		_ = json.NewEncoder(w).Encode(res.snapshot)
	}
}

// redirectNewRoom handles GET /room by generating a new random room ID and
// redirecting to /room/:roomid.
func redirectNewRoom(cfg *Config, path string, m *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := m.newRoomID()
		logf(cfg, "ROOMS: Created room %s/%s", path, roomID)
		http.Redirect(w, r, path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerVotingRooms sets up routes so that:
//   - $path                   → redirects to a new random room (8-char ID)
//   - $path/:roomid           → HTML shell
//   - $path/:roomid/ws        → WebSocket for that room
//   - $path/:roomid/state     → read-only JSON snapshot
//   - $path/:roomid/qr        → PNG QR code for that room URL
func registerVotingRooms(cfg *Config, path string, mux *httprouter.Router, m *RoomManager) {
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, cfg.prefix+path, m))
	mux.GET(cfg.prefix+path+"/:roomid", serveRoomPage(cfg))
	mux.GET(cfg.prefix+path+"/:roomid/ws", serveRoomSocket(cfg, m))
	mux.GET(cfg.prefix+path+"/:roomid/state", serveRoomSnapshot(cfg, m))
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}
