package main

import (
	"time"
)

// hostLeft reassigns the host seat after the current host explicitly
// leaves: nobody left clears the seat, a sole survivor is auto-promoted,
// and anything more calls for an election.
func (r *Room) hostLeft(st *RoomState) {
	st.HostID = ""

	actives := st.active()
	switch len(actives) {
	case 0:
		r.persist(st)
	case 1:
		r.promoteHost(st, actives[0])
	default:
		r.startElection(st, actives)
	}
}

// promoteHost installs a host without an election.
func (r *Room) promoteHost(st *RoomState, p *Participant) {
	st.HostID = p.ID
	st.Election = nil

	r.persist(st)

	logf(r.cfg, "ROOMS: Participant %s promoted to host of %s", p.ID, r.id)
	r.broadcast(HostChangedMessage{Type: "host_changed", HostID: p.ID}, nil)
	r.systemChat(st, eventAutoPromote, map[string]string{"name": p.Name})
}

func (r *Room) startElection(st *RoomState, actives []*Participant) {
	candidates := make([]string, 0, len(actives))
	for _, p := range actives {
		candidates = append(candidates, p.ID)
	}

	st.Election = &HostElection{
		Candidates: candidates,
		Votes:      make(map[string][]string),
		StartedAt:  time.Now(),
	}

	r.persist(st)

	logf(r.cfg, "ROOMS: Host election started in %s with %d candidates", r.id, len(candidates))
	r.broadcast(r.electionStartedMessage(st), nil)
	r.systemChat(st, eventElectionStart, nil)
}

func (r *Room) electionStartedMessage(st *RoomState) ElectionStartedMessage {
	msg := ElectionStartedMessage{Type: "host_election_started"}
	for _, id := range st.Election.Candidates {
		p, ok := st.Participants[id]
		if !ok {
			continue
		}
		msg.Candidates = append(msg.Candidates, CandidateInfo{
			ID:     p.ID,
			Name:   p.Name,
			Emblem: p.Emblem,
		})
	}
	return msg
}

// handleHostVote records one ranked ballot. Entries outside the current
// candidate set are filtered out silently; the ballot is otherwise taken
// as-is, including whether the voter ranked themselves.
func (r *Room) handleHostVote(st *RoomState, c *Client, msg ClientMessage) {
	if st.Election == nil {
		return
	}

	voter := st.activeParticipant(c.participantID)
	if voter == nil {
		return
	}

	st.Election.Votes[voter.ID] = filterRanking(msg.Ranking, st.Election.Candidates)

	r.persist(st)

	voted, total := r.electionProgress(st)
	r.broadcast(ElectionProgressMessage{
		Type:        "host_election_progress",
		VotedCount:  voted,
		TotalVoters: total,
	}, nil)

	r.tryResolveElection(st)
}

func (r *Room) electionProgress(st *RoomState) (voted, total int) {
	for _, p := range st.active() {
		total++
		if _, ok := st.Election.Votes[p.ID]; ok {
			voted++
		}
	}
	return voted, total
}

// filterRanking drops candidate ids not in the current field, preserving
// order and discarding duplicates.
func filterRanking(ranking, candidates []string) []string {
	allowed := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		allowed[id] = true
	}

	out := make([]string, 0, len(ranking))
	for _, id := range ranking {
		if allowed[id] {
			out = append(out, id)
			allowed[id] = false
		}
	}
	return out
}

// pruneElection handles churn while an election is open: a departed
// candidate is stripped from the field and from every cast ballot, and the
// smaller field may resolve immediately.
func (r *Room) pruneElection(st *RoomState, departedID string) {
	e := st.Election
	if e == nil {
		return
	}

	e.Candidates = removeID(e.Candidates, departedID)
	for voter, ranking := range e.Votes {
		e.Votes[voter] = removeID(ranking, departedID)
	}

	switch len(e.Candidates) {
	case 0:
		// Nobody left to elect; abandon the election.
		st.Election = nil
		r.persist(st)
	case 1:
		if p, ok := st.Participants[e.Candidates[0]]; ok && !p.Left {
			r.promoteHost(st, p)
		} else {
			st.Election = nil
			r.persist(st)
		}
	default:
		r.persist(st)
		r.tryResolveElection(st)
	}
}

// tryResolveElection resolves the election once every active participant
// has cast a ballot.
func (r *Room) tryResolveElection(st *RoomState) {
	e := st.Election
	if e == nil {
		return
	}

	actives := st.active()
	if len(actives) == 0 {
		return
	}
	for _, p := range actives {
		if _, ok := e.Votes[p.ID]; !ok {
			return
		}
	}

	joined := make(map[string]time.Time, len(st.Participants))
	for id, p := range st.Participants {
		joined[id] = p.JoinedAt
	}

	winnerID := resolveIRV(e.Candidates, e.Votes, joined)
	if winnerID == "" {
		// Degenerate empty field: promote the longest-tenured survivor.
		winnerID = actives[0].ID
	}

	winner, ok := st.Participants[winnerID]
	if !ok {
		st.Election = nil
		r.persist(st)
		return
	}

	st.HostID = winner.ID
	st.Election = nil

	r.persist(st)

	logf(r.cfg, "ROOMS: Participant %s elected host of %s", winner.ID, r.id)
	r.broadcast(ElectionEndedMessage{Type: "host_election_ended", HostID: winner.ID}, nil)
	r.systemChat(st, eventElectionWinner, map[string]string{"name": winner.Name})
}

// resolveIRV runs classic instant-runoff over the cast ballots: a strict
// majority of first choices wins outright; otherwise the candidate with
// the fewest first-choice votes is eliminated (ties eliminate the
// most-recently-joined) and the tally repeats. A field reduced to one
// wins without a majority check; an emptied field returns "".
func resolveIRV(candidates []string, ballots map[string][]string, joinedAt map[string]time.Time) string {
	remaining := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		remaining[id] = true
	}

	total := len(ballots)

	for {
		if len(remaining) == 0 {
			return ""
		}
		if len(remaining) == 1 {
			for id := range remaining {
				return id
			}
		}

		tally := make(map[string]int, len(remaining))
		for _, ranking := range ballots {
			for _, id := range ranking {
				if remaining[id] {
					tally[id]++
					break
				}
			}
		}

		leader := ""
		for id := range remaining {
			if leader == "" || tally[id] > tally[leader] {
				leader = id
			}
		}
		if tally[leader]*2 > total {
			return leader
		}

		loser := ""
		for id := range remaining {
			switch {
			case loser == "":
				loser = id
			case tally[id] < tally[loser]:
				loser = id
			case tally[id] == tally[loser] && joinedAt[id].After(joinedAt[loser]):
				loser = id
			}
		}
		delete(remaining, loser)
	}
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
