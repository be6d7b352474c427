package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyJoin(t *testing.T) {
	st := newRoomState(time.Now())
	st.Participants["live"] = &Participant{ID: "live"}
	st.Participants["gone"] = &Participant{ID: "gone", Left: true}

	tests := []struct {
		name string
		msg  ClientMessage
		want joinKind
	}{
		{"no id", ClientMessage{Name: "a"}, joinFresh},
		{"active id", ClientMessage{Name: "a", ParticipantID: "live"}, joinReconnect},
		{"left id", ClientMessage{Name: "a", ParticipantID: "gone"}, joinRejoin},
		{"unknown id with emblem", ClientMessage{Name: "a", ParticipantID: "lost", Emoji: "🦊", Color: "#e6194b"}, joinRemembered},
		{"unknown id without emblem", ClientMessage{Name: "a", ParticipantID: "lost"}, joinFresh},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, classifyJoin(st, tc.msg))
		})
	}
}

func TestFirstJoinBecomesHost(t *testing.T) {
	r, st := newTestRoom(t)
	a := joinAs(t, r, "alice")
	b := joinAs(t, r, "bob")

	require.Equal(t, a.participantID, st.HostID)
	require.NotEqual(t, b.participantID, st.HostID)
	checkInvariants(t, st)
}

func TestReconnectIsSilent(t *testing.T) {
	r, st := newTestRoom(t)
	a := joinAs(t, r, "alice")
	b := joinAs(t, r, "bob")
	drain(t, b)

	// Same participant id on a fresh socket: a network blip, not a join.
	c2 := &Client{send: make(chan []byte, 64)}
	r.clients[c2] = true
	r.handleJoin(st, c2, ClientMessage{Type: "join", Name: "alice2", ParticipantID: a.participantID})

	require.Equal(t, a.participantID, c2.participantID)
	require.Equal(t, "alice2", st.Participants[a.participantID].Name)

	msgs := drain(t, b)
	require.Nil(t, findMessage(msgs, "participant_joined"))
	require.Nil(t, findMessage(msgs, "chat"))

	// The reconnecting client still gets its bootstrap.
	require.NotNil(t, findMessage(drain(t, c2), "joined"))
}

func TestRejoinAfterLeavePreservesEmblem(t *testing.T) {
	r, st := newTestRoom(t)
	a := joinAs(t, r, "alice")
	b := joinAs(t, r, "bob")
	emblem := st.Participants[a.participantID].Emblem

	r.handleLeave(st, a)
	require.True(t, st.Participants[a.participantID].Left)
	drain(t, b)

	c2 := &Client{send: make(chan []byte, 64)}
	r.clients[c2] = true
	r.handleJoin(st, c2, ClientMessage{Type: "join", Name: "alice", ParticipantID: a.participantID})

	p := st.Participants[a.participantID]
	require.False(t, p.Left)
	require.Equal(t, emblem, p.Emblem)

	// Rejoin is announced like a fresh join.
	msgs := drain(t, b)
	require.NotNil(t, findMessage(msgs, "participant_joined"))
	checkInvariants(t, st)
}

func TestRememberedIdentityRestoresVote(t *testing.T) {
	r, st := newTestRoom(t)
	joinAs(t, r, "bob")

	// Server-side record wiped but the persistent vote map survived.
	st.Votes["ghost-id"] = "13"

	c := &Client{send: make(chan []byte, 64)}
	r.clients[c] = true
	r.handleJoin(st, c, ClientMessage{
		Type:          "join",
		Name:          "alice",
		ParticipantID: "ghost-id",
		Emoji:         "🦊",
		Color:         "#e6194b",
	})

	p := st.Participants["ghost-id"]
	require.NotNil(t, p)
	require.Equal(t, Emblem{Emoji: "🦊", Color: "#e6194b"}, p.Emblem)
	require.NotNil(t, p.Vote)
	require.Equal(t, "13", *p.Vote)
	checkInvariants(t, st)
}

func TestJoinWithBlankNameIgnored(t *testing.T) {
	r, st := newTestRoom(t)

	c := &Client{send: make(chan []byte, 64)}
	r.clients[c] = true
	r.handleJoin(st, c, ClientMessage{Type: "join", Name: "   "})

	require.Empty(t, c.participantID)
	require.Empty(t, st.Participants)
}

func TestKickSoftDeletes(t *testing.T) {
	r, st := newTestRoom(t)
	host := joinAs(t, r, "alice")
	b := joinAs(t, r, "bob")
	drain(t, b)

	r.handleVote(st, b, ClientMessage{Type: "vote", Value: "5"})

	r.handleKick(st, host, ClientMessage{Type: "kick", TargetID: b.participantID})

	p := st.Participants[b.participantID]
	require.True(t, p.Left)
	require.Nil(t, p.Vote)
	_, ok := st.Votes[b.participantID]
	require.False(t, ok)

	// The target was notified, then disconnected.
	msgs := drain(t, b)
	require.NotNil(t, findMessage(msgs, "kicked"))
	_, stillThere := r.clients[b]
	require.False(t, stillThere)
	checkInvariants(t, st)
}

func TestNonHostKickIgnored(t *testing.T) {
	r, st := newTestRoom(t)
	joinAs(t, r, "alice")
	b := joinAs(t, r, "bob")
	c := joinAs(t, r, "carol")

	r.handleKick(st, b, ClientMessage{Type: "kick", TargetID: c.participantID})

	require.False(t, st.Participants[c.participantID].Left)
}

func TestEmblemsUniqueAmongActive(t *testing.T) {
	r, st := newTestRoom(t)

	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		joinAs(t, r, name)
	}

	seen := make(map[Emblem]bool)
	for _, p := range st.Participants {
		require.False(t, seen[p.Emblem], "duplicate emblem %v", p.Emblem)
		seen[p.Emblem] = true
	}
}

func TestPickEmblemExhaustedFallsBack(t *testing.T) {
	st := newRoomState(time.Now())
	rng := rand.New(rand.NewSource(7))

	// Occupy the entire cross product.
	i := 0
	for _, emoji := range emblemEmojis {
		for _, color := range emblemColors {
			id := string(rune('a' + i%26)) + string(rune('0'+i/26))
			st.Participants[id] = &Participant{ID: id, Emblem: Emblem{Emoji: emoji, Color: color}}
			i++
		}
	}

	e := pickEmblem(rng, st)
	require.NotEmpty(t, e.Emoji)
	require.NotEmpty(t, e.Color)
}
