package main

import (
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	chatTextLimit   = 1000 // generous, to tolerate client-side ciphertext expansion
	chatLogLimit    = 100
	chatReplayLimit = 50

	systemSenderID = "system"
)

// System event names, keyed into systemTemplates.
const (
	eventJoin           = "join"
	eventLeave          = "leave"
	eventVoteCast       = "vote_cast"
	eventRoundStart     = "round_start"
	eventRoundReveal    = "round_reveal"
	eventConsensus      = "consensus"
	eventElectionStart  = "election_start"
	eventElectionWinner = "election_winner"
	eventAutoPromote    = "auto_promote"
	eventKick           = "kick"
)

var systemTemplates = map[string][]string{
	eventJoin: {
		"{name} wandered in.",
		"{name} has entered the room.",
		"A wild {name} appeared!",
	},
	eventLeave: {
		"{name} has left the room.",
		"{name} wandered off.",
		"{name} vanished into the night.",
	},
	eventVoteCast: {
		"{name} has made up their mind.",
		"{name} cast their vote.",
		"{name} locked it in.",
	},
	eventRoundStart: {
		"Round {round}, fight!",
		"Round {round} begins. Place your votes.",
		"A fresh round {round} is underway.",
	},
	eventRoundReveal: {
		"Everyone voted. Cards on the table!",
		"All votes are in. Revealing round {round}.",
		"Round {round} revealed.",
	},
	eventConsensus: {
		"Yahtzee! Everyone voted {vote}.",
		"Perfect consensus on {vote}. Suspiciously agreeable.",
		"Unanimous: {vote}. Yahtzee!",
	},
	eventElectionStart: {
		"The host has abandoned ship. Rank your preferred successors.",
		"Host vacancy detected. An election is underway.",
		"Time to pick a new host. Cast your ranked ballots.",
	},
	eventElectionWinner: {
		"{name} has been elected host. Long may they reign.",
		"The people have spoken: {name} is the new host.",
		"{name} wins the election.",
	},
	eventAutoPromote: {
		"{name} is the new host by default.",
		"With no rivals left, {name} takes the crown.",
		"{name} has been promoted to host.",
	},
	eventKick: {
		"{name} was shown the door.",
		"{name} has been kicked.",
		"The host banished {name}.",
	},
}

// systemText picks one template for the event uniformly from the known set
// and substitutes placeholders. Pure given the rand source, so tests can
// assert membership in the template set deterministically.
func systemText(rng *rand.Rand, event string, vars map[string]string) string {
	set := systemTemplates[event]
	if len(set) == 0 {
		return ""
	}

	return substitute(set[rng.Intn(len(set))], vars)
}

func substitute(text string, vars map[string]string) string {
	for k, v := range vars {
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}
	return text
}

func newSystemMessage(rng *rand.Rand, event string, vars map[string]string) ChatMessage {
	return ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   systemSenderID,
		SenderName: systemSenderID,
		Text:       systemText(rng, event, vars),
		SentAt:     time.Now(),
	}
}

// appendChat appends one message, dropping the oldest entries beyond the cap.
func appendChat(st *RoomState, msg ChatMessage) {
	st.Chat = append(st.Chat, msg)
	if len(st.Chat) > chatLogLimit {
		st.Chat = st.Chat[len(st.Chat)-chatLogLimit:]
	}
}

// recentChat returns up to n of the most recent messages, oldest first.
func recentChat(st *RoomState, n int) []ChatMessage {
	if len(st.Chat) <= n {
		out := make([]ChatMessage, len(st.Chat))
		copy(out, st.Chat)
		return out
	}
	out := make([]ChatMessage, n)
	copy(out, st.Chat[len(st.Chat)-n:])
	return out
}

func validChatText(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return len(text) <= chatTextLimit
}

// handleChat appends plain user chat verbatim. The coordinator never
// interprets formatting, links, or encryption; that is a client concern.
func (r *Room) handleChat(st *RoomState, c *Client, msg ClientMessage) {
	p := st.activeParticipant(c.participantID)
	if p == nil {
		return
	}
	if !validChatText(msg.Text) {
		return
	}

	m := ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   p.ID,
		SenderName: p.Name,
		Emblem:     p.Emblem,
		Text:       msg.Text,
		SentAt:     time.Now(),
	}
	appendChat(st, m)

	r.persist(st)

	r.broadcast(ChatBroadcastMessage{Type: "chat", Message: m}, nil)
}

// systemChat synthesizes one templated announcement, logs it, and fans it
// out like any other chat message.
func (r *Room) systemChat(st *RoomState, event string, vars map[string]string) {
	m := newSystemMessage(r.rng, event, vars)
	if m.Text == "" {
		return
	}
	appendChat(st, m)

	r.persist(st)

	r.broadcast(ChatBroadcastMessage{Type: "chat", Message: m}, nil)
}
