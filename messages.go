package main

import "time"

// Messages coming from clients
type ClientMessage struct {
	Type          string   `json:"type"`                    // "join", "vote", "reset", "chat", "kick", "leave", "host_vote", "burn", "get_stats", "ping"
	Name          string   `json:"name,omitempty"`          // join
	ParticipantID string   `json:"participant_id,omitempty"` // join (remembered identity)
	Emoji         string   `json:"emoji,omitempty"`         // join (remembered identity)
	Color         string   `json:"color,omitempty"`         // join (remembered identity)
	Value         string   `json:"value,omitempty"`         // vote
	Text          string   `json:"text,omitempty"`          // chat
	TargetID      string   `json:"target_id,omitempty"`     // kick
	Ranking       []string `json:"ranking,omitempty"`       // host_vote
}

// ParticipantView is the per-participant shape shared by client-facing
// messages. Vote is only populated when revealed, or for the participant's
// own entry in the join bootstrap.
type ParticipantView struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Emblem   Emblem  `json:"emblem"`
	HasVoted bool    `json:"has_voted"`
	Vote     *string `json:"vote,omitempty"`
}

// JoinedMessage is the full bootstrap sent to a client after a join.
type JoinedMessage struct {
	Type          string            `json:"type"` // "joined"
	ParticipantID string            `json:"participant_id"`
	Emblem        Emblem            `json:"emblem"`
	HostID        string            `json:"host_id,omitempty"`
	Revealed      bool              `json:"revealed"`
	RoundNumber   int               `json:"round_number"`
	Participants  []ParticipantView `json:"participants"`
	Chat          []ChatMessage     `json:"chat"`
}

type ParticipantJoinedMessage struct {
	Type        string          `json:"type"` // "participant_joined"
	Participant ParticipantView `json:"participant"`
}

type ParticipantLeftMessage struct {
	Type          string `json:"type"` // "participant_left"
	ParticipantID string `json:"participant_id"`
}

// VoteCastMessage announces that a participant has voted, without the value.
type VoteCastMessage struct {
	Type          string `json:"type"` // "vote_cast"
	ParticipantID string `json:"participant_id"`
	HasVoted      bool   `json:"has_voted"`
}

// RevealMessage carries every active participant's final vote, plus the
// round summary over the numeric votes.
type RevealMessage struct {
	Type    string            `json:"type"` // "reveal"
	Votes   map[string]string `json:"votes"`
	Average *float64          `json:"average,omitempty"`
	Median  *float64          `json:"median,omitempty"`
	Spread  *float64          `json:"spread,omitempty"`
}

type RoundResetMessage struct {
	Type        string `json:"type"` // "round_reset"
	RoundNumber int    `json:"round_number"`
}

type ChatBroadcastMessage struct {
	Type    string      `json:"type"` // "chat"
	Message ChatMessage `json:"message"`
}

type KickedMessage struct {
	Type    string `json:"type"` // "kicked"
	Message string `json:"message"`
}

type RoomBurnedMessage struct {
	Type    string `json:"type"` // "room_burned"
	Message string `json:"message"`
}

// CandidateInfo describes one electable participant.
type CandidateInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Emblem Emblem `json:"emblem"`
}

type ElectionStartedMessage struct {
	Type       string          `json:"type"` // "host_election_started"
	Candidates []CandidateInfo `json:"candidates"`
}

type ElectionProgressMessage struct {
	Type        string `json:"type"` // "host_election_progress"
	VotedCount  int    `json:"voted_count"`
	TotalVoters int    `json:"total_voters"`
}

type ElectionEndedMessage struct {
	Type   string `json:"type"` // "host_election_ended"
	HostID string `json:"host_id"`
}

type HostChangedMessage struct {
	Type   string `json:"type"` // "host_changed"
	HostID string `json:"host_id,omitempty"`
}

// ParticipantReport is one participant's slice of the stats block.
type ParticipantReport struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Emblem             Emblem   `json:"emblem"`
	VotesCast          int      `json:"votes_cast"`
	ChaosVotes         int      `json:"chaos_votes"`
	AverageVote        *float64 `json:"average_vote,omitempty"`
	AverageLatency     *float64 `json:"average_latency_seconds,omitempty"`
	ConsensusMatches   int      `json:"consensus_matches"`
	RoundsParticipated int      `json:"rounds_participated"`
}

type StatsMessage struct {
	Type            string              `json:"type"` // "stats"
	SessionStarted  time.Time           `json:"session_started"`
	RoundStarted    time.Time           `json:"round_started"`
	RoundNumber     int                 `json:"round_number"`
	UnanimousRounds int                 `json:"unanimous_rounds"`
	Participants    []ParticipantReport `json:"participants"`
}

type PongMessage struct {
	Type string `json:"type"` // "pong"
}
