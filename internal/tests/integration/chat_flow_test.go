package integration

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campusbridge/alumni-connect/internal/chatclient"
	"github.com/campusbridge/alumni-connect/internal/models"
	"github.com/campusbridge/alumni-connect/internal/testutil"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatFlow_FirstMessageOverREST(t *testing.T) {
	s := setupStack(t)
	alice := testutil.Token(t, "alice")
	bob := testutil.Token(t, "bob")

	resp := performRequest(t, s, http.MethodPost, "/api/chat/messages", gin.H{"receiverId": "bob", "content": "hi"}, alice)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, token := range []string{alice, bob} {
		resp = performRequest(t, s, http.MethodGet, "/api/chat/conversations", nil, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var list struct {
			Conversations []models.Conversation `json:"conversations"`
		}
		decodeBody(t, resp, &list)
		require.Len(t, list.Conversations, 1)
		conv := list.Conversations[0]
		require.NotNil(t, conv.LastMessage)
		assert.Equal(t, "hi", conv.LastMessage.Content)

		ids := []string{conv.Participants[0].ID, conv.Participants[1].ID}
		assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
	}

	// whitespace-only content is rejected and nothing is stored
	resp = performRequest(t, s, http.MethodPost, "/api/chat/messages", gin.H{"receiverId": "bob", "content": " \n\t "}, alice)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var count int64
	require.NoError(t, s.db.Model(&models.Message{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	resp = performRequest(t, s, http.MethodGet, "/api/chat/conversations", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type participant struct {
	conn     *chatclient.Connection
	session  *chatclient.Session
	connects atomic.Int32
}

func join(t *testing.T, s *testStack, userID, peerID, conversationID string) *participant {
	t.Helper()
	token := testutil.Token(t, userID)
	p := &participant{}
	p.conn = chatclient.NewConnection(chatclient.NewWSTransport(s.wsURL()), token, chatclient.ConnectionOptions{
		Backoff: chatclient.Backoff{Base: 20 * time.Millisecond, Factor: 2, Max: 200 * time.Millisecond, MaxRetries: 5},
		OnStateChange: func(st chatclient.State) {
			if st == chatclient.StateConnected {
				p.connects.Add(1)
			}
		},
	})
	t.Cleanup(func() { _ = p.conn.Close() })

	sess, err := chatclient.OpenSession(context.Background(), p.conn, chatclient.NewRESTClient(s.apiURL(), token),
		userID, conversationID, peerID, chatclient.SessionOptions{})
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	p.session = sess

	require.Eventually(t, func() bool { return p.conn.Joined(conversationID) }, 5*time.Second, 10*time.Millisecond)
	return p
}

func contents(entries []chatclient.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

func TestChatFlow_RealtimeSendReconnectAndRejoin(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	rest := chatclient.NewRESTClient(s.apiURL(), testutil.Token(t, "alice"))
	conv, err := rest.StartConversation(ctx, "bob")
	require.NoError(t, err)

	alice := join(t, s, "alice", "bob", conv.ID)
	bob := join(t, s, "bob", "alice", conv.ID)

	sent, err := alice.session.Send(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, chatclient.StatusSent, sent.Status)

	require.Eventually(t, func() bool { return len(bob.session.Messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, sent.ID, bob.session.Messages()[0].ID)

	// ack and the room broadcast both reached alice; she still sees one message
	time.Sleep(100 * time.Millisecond)
	require.Len(t, alice.session.Messages(), 1)
	assert.Equal(t, "hello", alice.session.Messages()[0].Content)

	// drop every live socket; both clients reconnect and rejoin on their own
	s.ws.Close()
	require.Eventually(t, func() bool {
		return alice.connects.Load() >= 2 && bob.connects.Load() >= 2 &&
			alice.conn.Joined(conv.ID) && bob.conn.Joined(conv.ID)
	}, 5*time.Second, 10*time.Millisecond)

	_, err = alice.session.Send(ctx, "after the gap")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(bob.session.Messages()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"hello", "after the gap"}, contents(bob.session.Messages()))
	assert.Equal(t, []string{"hello", "after the gap"}, contents(alice.session.Messages()))

	// typing is only relayed to room members, so this proves the rejoin
	alice.session.Typing()
	require.Eventually(t, bob.session.PeerTyping, 5*time.Second, 10*time.Millisecond)
	assert.True(t, bob.session.IsOnline("alice"))

	// the persisted history agrees with the live view
	history, err := rest.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "after the gap", history[1].Content)

	resp := performRequest(t, s, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chat_sessions")
	assert.Contains(t, string(body), "chat_deliveries_total")
}

func TestChatFlow_SendWhileDisconnectedFailsFast(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	token := testutil.Token(t, "alice")

	rest := chatclient.NewRESTClient(s.apiURL(), token)
	conv, err := rest.StartConversation(ctx, "bob")
	require.NoError(t, err)

	// a broker that refuses the credential never connects, REST reads still work
	conn := chatclient.NewConnection(chatclient.NewWSTransport(s.wsURL()), "bad-token", chatclient.ConnectionOptions{
		Backoff: chatclient.Backoff{Base: 10 * time.Millisecond, Factor: 2, Max: 50 * time.Millisecond, MaxRetries: 1},
	})
	t.Cleanup(func() { _ = conn.Close() })

	sess, err := chatclient.OpenSession(ctx, conn, rest, "alice", conv.ID, "bob", chatclient.SessionOptions{})
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	assert.Equal(t, chatclient.TimelineReady, sess.Timeline().State())

	_, err = sess.Send(ctx, "hello")
	assert.ErrorIs(t, err, chatclient.ErrDisconnected)
	assert.Empty(t, sess.Messages())

	require.Eventually(t, func() bool { return conn.LastError() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, chatclient.StateDisconnected, conn.State())

	// a conversation the requester is not part of is a 404 from REST
	_, err = chatclient.NewRESTClient(s.apiURL(), testutil.Token(t, "bob")).ListMessages(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
