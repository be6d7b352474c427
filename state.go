package main

import (
	"sort"
	"time"
)

// Emblem is the visual identity assigned to a participant: an emoji plus a
// display color. The pair is kept unique among active participants.
type Emblem struct {
	Emoji string `json:"emoji"`
	Color string `json:"color"`
}

// Participant holds the data we store server-side for one identity.
// Names are opaque to the server; clients may send ciphertext.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Emblem   Emblem    `json:"emblem"`
	Vote     *string   `json:"vote,omitempty"`
	Left     bool      `json:"left"`
	JoinedAt time.Time `json:"joined_at"`
}

// ChatMessage is one entry in the room's bounded chat log. System
// announcements use the sentinel sender id "system".
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Emblem     Emblem    `json:"emblem"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

// HostElection exists only while no host is assigned and a successor has
// not yet been resolved.
type HostElection struct {
	Candidates []string            `json:"candidates"`
	Votes      map[string][]string `json:"votes"` // voter id -> ranked candidate ids
	StartedAt  time.Time           `json:"started_at"`
}

// ParticipantStats counters are cumulative across rounds; they are
// incremented on first vote and at reveal and never decremented.
type ParticipantStats struct {
	VotesCast          int       `json:"votes_cast"`
	NumericVotes       []float64 `json:"numeric_votes,omitempty"`
	ChaosVotes         int       `json:"chaos_votes"`
	Latencies          []float64 `json:"latencies,omitempty"` // seconds from round start to first vote
	ConsensusMatches   int       `json:"consensus_matches"`
	RoundsParticipated int       `json:"rounds_participated"`
}

type SessionStats struct {
	StartedAt       time.Time                    `json:"started_at"`
	RoundStartedAt  time.Time                    `json:"round_started_at"`
	UnanimousRounds int                          `json:"unanimous_rounds"`
	Participants    map[string]*ParticipantStats `json:"participants"`
}

// RoomState is the entire canonical state of one room. It is only ever
// mutated by the room's own actor goroutine and persisted as a single blob
// after every mutation.
type RoomState struct {
	Participants map[string]*Participant `json:"participants"`
	Votes        map[string]string       `json:"votes"` // persistent vote map, survives participant churn
	Revealed     bool                    `json:"revealed"`
	HostID       string                  `json:"host_id,omitempty"`
	RoundNumber  int                     `json:"round_number"`
	Chat         []ChatMessage           `json:"chat"`
	Stats        SessionStats            `json:"stats"`
	Election     *HostElection           `json:"election,omitempty"`
}

func newRoomState(now time.Time) *RoomState {
	return &RoomState{
		Participants: make(map[string]*Participant),
		Votes:        make(map[string]string),
		RoundNumber:  1,
		Chat:         []ChatMessage{},
		Stats: SessionStats{
			StartedAt:      now,
			RoundStartedAt: now,
			Participants:   make(map[string]*ParticipantStats),
		},
	}
}

// normalize backfills fields that may be absent from a blob persisted by an
// older schema, so the rest of the code never has to nil-check them.
func (st *RoomState) normalize(now time.Time) {
	if st.Participants == nil {
		st.Participants = make(map[string]*Participant)
	}
	if st.Votes == nil {
		st.Votes = make(map[string]string)
	}
	if st.Chat == nil {
		st.Chat = []ChatMessage{}
	}
	if st.RoundNumber < 1 {
		st.RoundNumber = 1
	}
	if st.Stats.StartedAt.IsZero() {
		st.Stats.StartedAt = now
	}
	if st.Stats.RoundStartedAt.IsZero() {
		st.Stats.RoundStartedAt = now
	}
	if st.Stats.Participants == nil {
		st.Stats.Participants = make(map[string]*ParticipantStats)
	}
	if st.Election != nil && st.Election.Votes == nil {
		st.Election.Votes = make(map[string][]string)
	}

	for _, p := range st.Participants {
		if p.JoinedAt.IsZero() {
			p.JoinedAt = now
		}
		// The persistent vote map is authoritative for non-left participants.
		if !p.Left {
			if v, ok := st.Votes[p.ID]; ok {
				vv := v
				p.Vote = &vv
			}
		}
	}
}

// active returns all non-left participants, longest-tenured first.
func (st *RoomState) active() []*Participant {
	out := make([]*Participant, 0, len(st.Participants))
	for _, p := range st.Participants {
		if !p.Left {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (st *RoomState) activeCount() int {
	n := 0
	for _, p := range st.Participants {
		if !p.Left {
			n++
		}
	}
	return n
}

func (st *RoomState) activeParticipant(id string) *Participant {
	p, ok := st.Participants[id]
	if !ok || p.Left {
		return nil
	}
	return p
}

func (st *RoomState) participantStats(id string) *ParticipantStats {
	ps, ok := st.Stats.Participants[id]
	if !ok {
		ps = &ParticipantStats{}
		st.Stats.Participants[id] = ps
	}
	return ps
}

// view renders a participant for the wire, withholding the vote value
// unless the room is revealed or the participant is the viewer.
func (p *Participant) view(revealed bool, selfID string) ParticipantView {
	v := ParticipantView{
		ID:       p.ID,
		Name:     p.Name,
		Emblem:   p.Emblem,
		HasVoted: p.Vote != nil,
	}
	if p.Vote != nil && (revealed || p.ID == selfID) {
		vote := *p.Vote
		v.Vote = &vote
	}
	return v
}

func (st *RoomState) participantViews(selfID string) []ParticipantView {
	actives := st.active()
	out := make([]ParticipantView, 0, len(actives))
	for _, p := range actives {
		out = append(out, p.view(st.Revealed, selfID))
	}
	return out
}
