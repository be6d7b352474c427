package main

import (
	"sort"
	"strconv"
	"time"
)

// The fixed vote scale. Values that parse as numbers feed the round
// summary; the rest count as chaos votes.
var pointScale = []string{
	"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89",
	"?", "∞", "☕",
}

func validVote(value string) bool {
	for _, v := range pointScale {
		if v == value {
			return true
		}
	}
	return false
}

// handleVote processes a "vote" while the round is collecting. Re-votes
// overwrite the stored value without re-counting first-vote stats.
func (r *Room) handleVote(st *RoomState, c *Client, msg ClientMessage) {
	if st.Revealed {
		return
	}

	p := st.activeParticipant(c.participantID)
	if p == nil {
		return
	}
	if !validVote(msg.Value) {
		return
	}

	first := p.Vote == nil

	value := msg.Value
	p.Vote = &value
	st.Votes[p.ID] = value

	if first {
		ps := st.participantStats(p.ID)
		ps.VotesCast++
		ps.Latencies = append(ps.Latencies, time.Since(st.Stats.RoundStartedAt).Seconds())
	}

	r.persist(st)

	r.broadcast(VoteCastMessage{
		Type:          "vote_cast",
		ParticipantID: p.ID,
		HasVoted:      true,
	}, nil)

	if first {
		r.systemChat(st, eventVoteCast, map[string]string{"name": p.Name})
	}

	r.maybeReveal(st)
}

// maybeReveal transitions Collecting -> Revealed once every active
// participant has a vote, then records reveal-time stats and announces the
// round summary.
func (r *Room) maybeReveal(st *RoomState) {
	if st.Revealed {
		return
	}

	actives := st.active()
	if len(actives) == 0 {
		return
	}
	for _, p := range actives {
		if p.Vote == nil {
			return
		}
	}

	st.Revealed = true

	votes := make(map[string]string, len(actives))
	var numeric []float64
	consensus := len(actives) >= 2

	first := *actives[0].Vote
	for _, p := range actives {
		value := *p.Vote
		votes[p.ID] = value
		if value != first {
			consensus = false
		}

		ps := st.participantStats(p.ID)
		ps.RoundsParticipated++
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			ps.NumericVotes = append(ps.NumericVotes, f)
			numeric = append(numeric, f)
		} else {
			ps.ChaosVotes++
		}
	}

	if consensus {
		st.Stats.UnanimousRounds++
		for _, p := range actives {
			st.participantStats(p.ID).ConsensusMatches++
		}
	}

	r.persist(st)

	reveal := RevealMessage{
		Type:  "reveal",
		Votes: votes,
	}
	if len(numeric) > 0 {
		avg, med, spread := summarize(numeric)
		reveal.Average = &avg
		reveal.Median = &med
		reveal.Spread = &spread
	}
	r.broadcast(reveal, nil)

	round := strconv.Itoa(st.RoundNumber)
	r.systemChat(st, eventRoundReveal, map[string]string{"round": round})
	if consensus {
		r.systemChat(st, eventConsensus, map[string]string{"vote": first})
	}
}

// handleReset starts the next round. Host only.
func (r *Room) handleReset(st *RoomState, c *Client) {
	if st.HostID == "" || c.participantID != st.HostID {
		return
	}

	for _, p := range st.Participants {
		p.Vote = nil
	}
	st.Votes = make(map[string]string)
	st.Revealed = false
	st.RoundNumber++
	st.Stats.RoundStartedAt = time.Now()

	r.persist(st)

	r.broadcast(RoundResetMessage{
		Type:        "round_reset",
		RoundNumber: st.RoundNumber,
	}, nil)
	r.systemChat(st, eventRoundStart, map[string]string{"round": strconv.Itoa(st.RoundNumber)})
}

// summarize computes average, median, and spread (max minus min) over the
// numeric votes of a round.
func summarize(values []float64) (avg, median, spread float64) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	avg = sum / float64(len(sorted))

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		median = sorted[mid]
	} else {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	spread = sorted[len(sorted)-1] - sorted[0]

	return avg, median, spread
}

// handleGetStats replies to the requester with the computed aggregate block.
func (r *Room) handleGetStats(st *RoomState, c *Client) {
	report := StatsMessage{
		Type:            "stats",
		SessionStarted:  st.Stats.StartedAt,
		RoundStarted:    st.Stats.RoundStartedAt,
		RoundNumber:     st.RoundNumber,
		UnanimousRounds: st.Stats.UnanimousRounds,
	}

	ids := make([]string, 0, len(st.Stats.Participants))
	for id := range st.Stats.Participants {
		if _, ok := st.Participants[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := st.Participants[id]
		ps := st.Stats.Participants[id]

		pr := ParticipantReport{
			ID:                 p.ID,
			Name:               p.Name,
			Emblem:             p.Emblem,
			VotesCast:          ps.VotesCast,
			ChaosVotes:         ps.ChaosVotes,
			ConsensusMatches:   ps.ConsensusMatches,
			RoundsParticipated: ps.RoundsParticipated,
		}
		if len(ps.NumericVotes) > 0 {
			avg := mean(ps.NumericVotes)
			pr.AverageVote = &avg
		}
		if len(ps.Latencies) > 0 {
			avg := mean(ps.Latencies)
			pr.AverageLatency = &avg
		}

		report.Participants = append(report.Participants, pr)
	}

	r.sendTo(c, report)
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
