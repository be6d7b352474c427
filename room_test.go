package main

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRoom(t *testing.T) (*Room, *RoomState) {
	t.Helper()

	store, err := openStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &Config{database: ":memory:"}
	manager := &RoomManager{
		rooms: make(map[string]*Room),
		cfg:   cfg,
		store: store,
	}

	room := newRoom("test0001", cfg, store, manager, rand.New(rand.NewSource(1)))
	manager.rooms[room.id] = room

	st, err := room.roomState()
	require.NoError(t, err)

	return room, st
}

// joinAs attaches a fake client and joins it as a fresh participant,
// bypassing the websocket plumbing. Handlers are invoked directly since
// the run loop would serialize them the same way.
func joinAs(t *testing.T, r *Room, name string) *Client {
	t.Helper()

	c := &Client{send: make(chan []byte, 64)}
	r.clients[c] = true

	st, err := r.roomState()
	require.NoError(t, err)

	r.handleJoin(st, c, ClientMessage{Type: "join", Name: name})
	require.NotEmpty(t, c.participantID)

	return c
}

func drain(t *testing.T, c *Client) []map[string]any {
	t.Helper()

	var out []map[string]any
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))
			out = append(out, m)
		default:
			return out
		}
	}
}

func findMessage(msgs []map[string]any, msgType string) map[string]any {
	for _, m := range msgs {
		if m["type"] == msgType {
			return m
		}
	}
	return nil
}

func checkInvariants(t *testing.T, st *RoomState) {
	t.Helper()

	require.False(t, st.HostID != "" && st.Election != nil,
		"host and election must never coexist")

	if st.Revealed {
		for _, p := range st.active() {
			require.NotNil(t, p.Vote, "revealed round with unvoted active participant %s", p.ID)
		}
	}

	require.LessOrEqual(t, len(st.Chat), chatLogLimit)

	for _, p := range st.Participants {
		if p.Left {
			continue
		}
		if p.Vote != nil {
			require.Equal(t, *p.Vote, st.Votes[p.ID], "vote map divergence for %s", p.ID)
		} else {
			_, ok := st.Votes[p.ID]
			require.False(t, ok, "stale vote map entry for %s", p.ID)
		}
	}
}

func TestPingDoesNotTouchState(t *testing.T) {
	r, st := newTestRoom(t)
	c := joinAs(t, r, "alice")
	drain(t, c)

	round := st.RoundNumber
	r.dispatch(inboundMessage{client: c, data: []byte(`{"type":"ping"}`)})

	msgs := drain(t, c)
	require.NotNil(t, findMessage(msgs, "pong"))
	require.Nil(t, findMessage(msgs, "chat"))
	require.Equal(t, round, st.RoundNumber)
}

func TestMalformedMessageDropped(t *testing.T) {
	r, st := newTestRoom(t)
	c := joinAs(t, r, "alice")
	drain(t, c)

	r.dispatch(inboundMessage{client: c, data: []byte(`{not json`)})
	r.dispatch(inboundMessage{client: c, data: []byte(`"a bare string"`)})

	require.Empty(t, drain(t, c))
	checkInvariants(t, st)
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	r, st := newTestRoom(t)
	c := joinAs(t, r, "alice")
	drain(t, c)

	r.dispatch(inboundMessage{client: c, data: []byte(`{"type":"format_disk"}`)})

	require.Empty(t, drain(t, c))
	checkInvariants(t, st)
}

func TestSnapshotHidesUnrevealedVotes(t *testing.T) {
	r, st := newTestRoom(t)
	a := joinAs(t, r, "alice")
	joinAs(t, r, "bob")

	r.handleVote(st, a, ClientMessage{Type: "vote", Value: "5"})

	res := r.takeSnapshot()
	require.NoError(t, res.err)
	require.False(t, res.snapshot.Revealed)
	require.Equal(t, 1, res.snapshot.RoundNumber)
	require.Len(t, res.snapshot.Participants, 2)

	for _, p := range res.snapshot.Participants {
		require.Nil(t, p.Vote)
		if p.ID == a.participantID {
			require.True(t, p.HasVoted)
		}
	}
}

func TestBurnWipesDurableState(t *testing.T) {
	r, st := newTestRoom(t)
	host := joinAs(t, r, "alice")
	other := joinAs(t, r, "bob")

	exists, err := r.store.Exists(r.id)
	require.NoError(t, err)
	require.True(t, exists)

	// A non-host burn is silently ignored.
	r.handleBurn(st, other)
	exists, err = r.store.Exists(r.id)
	require.NoError(t, err)
	require.True(t, exists)

	msgs := drain(t, other)
	r.handleBurn(st, host)

	exists, err = r.store.Exists(r.id)
	require.NoError(t, err)
	require.False(t, exists)

	msgs = drain(t, other)
	require.NotNil(t, findMessage(msgs, "room_burned"))
	require.Empty(t, r.clients)
	require.Empty(t, r.manager.rooms)
}

func TestJoinBootstrapShape(t *testing.T) {
	r, st := newTestRoom(t)
	a := joinAs(t, r, "alice")

	msgs := drain(t, a)
	joined := findMessage(msgs, "joined")
	require.NotNil(t, joined)
	require.Equal(t, a.participantID, joined["participant_id"])
	require.Equal(t, a.participantID, joined["host_id"])
	require.Equal(t, false, joined["revealed"])
	require.Equal(t, float64(1), joined["round_number"])

	checkInvariants(t, st)
}
