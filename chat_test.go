package main

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChatLogBound(t *testing.T) {
	st := newRoomState(time.Now())

	for i := 1; i <= 150; i++ {
		appendChat(st, ChatMessage{ID: fmt.Sprintf("m%d", i), Text: fmt.Sprintf("message %d", i)})
	}

	require.Len(t, st.Chat, 100)
	require.Equal(t, "message 51", st.Chat[0].Text)
	require.Equal(t, "message 150", st.Chat[99].Text)

	replay := recentChat(st, chatReplayLimit)
	require.Len(t, replay, 50)
	require.Equal(t, "message 101", replay[0].Text)
	require.Equal(t, "message 150", replay[49].Text)
}

func TestRecentChatShortLog(t *testing.T) {
	st := newRoomState(time.Now())
	appendChat(st, ChatMessage{Text: "only one"})

	replay := recentChat(st, chatReplayLimit)
	require.Len(t, replay, 1)
	require.Equal(t, "only one", replay[0].Text)
}

func TestValidChatText(t *testing.T) {
	require.False(t, validChatText(""))
	require.False(t, validChatText("   \t\n"))
	require.False(t, validChatText(strings.Repeat("x", chatTextLimit+1)))
	require.True(t, validChatText(strings.Repeat("x", chatTextLimit)))
	require.True(t, validChatText("hello"))
}

func TestSystemTextIsMemberOfTemplateSet(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vars := map[string]string{"name": "alice", "vote": "5", "round": "3"}

	for event, set := range systemTemplates {
		expected := make(map[string]bool, len(set))
		for _, tmpl := range set {
			expected[substitute(tmpl, vars)] = true
		}

		for i := 0; i < 20; i++ {
			text := systemText(rng, event, vars)
			require.True(t, expected[text], "event %s produced unknown text %q", event, text)
			require.NotContains(t, text, "{name}")
			require.NotContains(t, text, "{vote}")
			require.NotContains(t, text, "{round}")
		}
	}
}

func TestSystemTextUnknownEvent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	require.Empty(t, systemText(rng, "no_such_event", nil))
}

func TestHandleChatAppendsVerbatim(t *testing.T) {
	r, st := newTestRoom(t)
	a := joinAs(t, r, "alice")
	b := joinAs(t, r, "bob")
	drain(t, b)

	text := "**markdown** and http://links are [not](interpreted)"
	r.handleChat(st, a, ClientMessage{Type: "chat", Text: text})

	require.Equal(t, text, st.Chat[len(st.Chat)-1].Text)
	require.Equal(t, a.participantID, st.Chat[len(st.Chat)-1].SenderID)

	msgs := drain(t, b)
	chat := findMessage(msgs, "chat")
	require.NotNil(t, chat)
	require.Equal(t, text, chat["message"].(map[string]any)["text"])
}

func TestHandleChatRejectsInvalid(t *testing.T) {
	r, st := newTestRoom(t)
	a := joinAs(t, r, "alice")

	before := len(st.Chat)
	r.handleChat(st, a, ClientMessage{Type: "chat", Text: "  "})
	r.handleChat(st, a, ClientMessage{Type: "chat", Text: strings.Repeat("y", chatTextLimit+1)})

	require.Len(t, st.Chat, before)
}

func TestHandleChatFromNonParticipantIgnored(t *testing.T) {
	r, st := newTestRoom(t)
	joinAs(t, r, "alice")

	stranger := &Client{send: make(chan []byte, 8)}
	r.clients[stranger] = true

	before := len(st.Chat)
	r.handleChat(st, stranger, ClientMessage{Type: "chat", Text: "hello"})

	require.Len(t, st.Chat, before)
}

func TestFreshJoinerReceivesRecentChat(t *testing.T) {
	r, st := newTestRoom(t)
	a := joinAs(t, r, "alice")

	for i := 0; i < 120; i++ {
		r.handleChat(st, a, ClientMessage{Type: "chat", Text: fmt.Sprintf("msg %d", i)})
	}

	b := joinAs(t, r, "bob")
	msgs := drain(t, b)
	joined := findMessage(msgs, "joined")
	require.NotNil(t, joined)
	require.Len(t, joined["chat"].([]any), 50)
}
