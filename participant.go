package main

import (
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	emblemEmojis = []string{
		"🦊", "🐼", "🦉", "🐸", "🦄", "🐙", "🦀", "🐢",
		"🦜", "🐝", "🦈", "🐌", "🦔", "🐳", "🦩", "🐲",
	}
	emblemColors = []string{
		"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
		"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
		"#008080", "#e6beff",
	}
)

// joinKind is the discriminated case analysis for a join message, resolved
// once at entry so each branch stays individually testable.
type joinKind int

const (
	joinFresh joinKind = iota
	joinReconnect
	joinRejoin
	joinRemembered
)

func classifyJoin(st *RoomState, msg ClientMessage) joinKind {
	if msg.ParticipantID == "" {
		return joinFresh
	}
	if p, ok := st.Participants[msg.ParticipantID]; ok {
		if p.Left {
			return joinRejoin
		}
		return joinReconnect
	}
	if msg.Emoji != "" && msg.Color != "" {
		return joinRemembered
	}
	return joinFresh
}

// pickEmblem assigns an (emoji, color) pair not used by any active
// participant, probing randomized combinations from the full cross product
// before settling for an arbitrary pair once everything is taken.
func pickEmblem(rng *rand.Rand, st *RoomState) Emblem {
	used := make(map[Emblem]bool)
	for _, p := range st.Participants {
		if !p.Left {
			used[p.Emblem] = true
		}
	}

	total := len(emblemEmojis) * len(emblemColors)
	for _, idx := range rng.Perm(total) {
		e := Emblem{
			Emoji: emblemEmojis[idx%len(emblemEmojis)],
			Color: emblemColors[idx/len(emblemEmojis)],
		}
		if !used[e] {
			return e
		}
	}

	return Emblem{
		Emoji: emblemEmojis[rng.Intn(len(emblemEmojis))],
		Color: emblemColors[rng.Intn(len(emblemColors))],
	}
}

// handleJoin processes "join" messages.
func (r *Room) handleJoin(st *RoomState, c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		return
	}

	now := time.Now()
	announce := true

	var p *Participant

	switch classifyJoin(st, msg) {
	case joinReconnect:
		// Same live participant on a fresh socket; keep quiet about it.
		p = st.Participants[msg.ParticipantID]
		p.Name = name
		announce = false

	case joinRejoin:
		p = st.Participants[msg.ParticipantID]
		p.Left = false
		p.Name = name

	case joinRemembered:
		// The client remembers an identity we no longer have on record.
		p = &Participant{
			ID:       msg.ParticipantID,
			Name:     name,
			Emblem:   Emblem{Emoji: msg.Emoji, Color: msg.Color},
			JoinedAt: now,
		}
		if v, ok := st.Votes[p.ID]; ok {
			vote := v
			p.Vote = &vote
		}
		st.Participants[p.ID] = p

	case joinFresh:
		p = &Participant{
			ID:       uuid.NewString(),
			Name:     name,
			Emblem:   pickEmblem(r.rng, st),
			JoinedAt: now,
		}
		st.Participants[p.ID] = p
	}

	st.participantStats(p.ID)

	// The first participant in an empty room becomes host.
	if st.HostID == "" && st.Election == nil && st.activeCount() == 1 {
		st.HostID = p.ID
	}

	c.participantID = p.ID
	r.persist(st)

	r.sendTo(c, JoinedMessage{
		Type:          "joined",
		ParticipantID: p.ID,
		Emblem:        p.Emblem,
		HostID:        st.HostID,
		Revealed:      st.Revealed,
		RoundNumber:   st.RoundNumber,
		Participants:  st.participantViews(p.ID),
		Chat:          recentChat(st, chatReplayLimit),
	})

	// A joiner mid-election needs the candidate list to cast a ballot.
	if st.Election != nil {
		r.sendTo(c, r.electionStartedMessage(st))
	}

	if announce {
		logf(r.cfg, "ROOMS: Participant %s joined %s", p.ID, r.id)
		r.broadcast(ParticipantJoinedMessage{
			Type:        "participant_joined",
			Participant: p.view(st.Revealed, ""),
		}, c)
		r.systemChat(st, eventJoin, map[string]string{"name": p.Name})
	}
}

// handleLeave processes an explicit "leave". A plain socket close does not
// mark the participant left; they stay visible until they leave, are
// kicked, or reconnect.
func (r *Room) handleLeave(st *RoomState, c *Client) {
	p := st.activeParticipant(c.participantID)
	if p == nil {
		return
	}

	logf(r.cfg, "ROOMS: Participant %s left %s", p.ID, r.id)
	r.removeParticipant(st, p, false)
}

// handleKick processes a host-initiated "kick".
func (r *Room) handleKick(st *RoomState, c *Client, msg ClientMessage) {
	if st.HostID == "" || c.participantID != st.HostID {
		return
	}
	if msg.TargetID == st.HostID {
		return
	}

	p := st.activeParticipant(msg.TargetID)
	if p == nil {
		return
	}

	// Notify and disconnect the target's sockets before announcing.
	for client := range r.clients {
		if client.participantID == p.ID {
			r.sendTo(client, KickedMessage{
				Type:    "kicked",
				Message: "You have been removed by the host.",
			})
			r.drop(client)
		}
	}

	logf(r.cfg, "ROOMS: Participant %s kicked from %s", p.ID, r.id)
	r.removeParticipant(st, p, true)
}

// removeParticipant soft-deletes a participant, preserving their identity
// for a later rejoin, and runs the round and election follow-ups a
// departure can trigger.
func (r *Room) removeParticipant(st *RoomState, p *Participant, kicked bool) {
	wasHost := st.HostID == p.ID

	p.Left = true
	p.Vote = nil
	delete(st.Votes, p.ID)

	r.persist(st)

	r.broadcast(ParticipantLeftMessage{
		Type:          "participant_left",
		ParticipantID: p.ID,
	}, nil)

	if kicked {
		r.systemChat(st, eventKick, map[string]string{"name": p.Name})
	} else {
		r.systemChat(st, eventLeave, map[string]string{"name": p.Name})
	}

	if st.Election != nil {
		r.pruneElection(st, p.ID)
	}

	// Only an explicit leave by the host vacates the seat.
	if wasHost && !kicked {
		r.hostLeft(st)
	}

	// The departure may have completed the round.
	r.maybeReveal(st)
}
