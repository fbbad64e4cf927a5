package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func recv(t *testing.T, c *Client) outbound {
	t.Helper()
	select {
	case m := <-c.send:
		return m
	default:
		t.Fatalf("client %s has nothing queued", c.ID)
		return outbound{}
	}
}

func TestHub_SessionRevokedMarksCurrentConnection(t *testing.T) {
	t.Parallel()
	h := NewHub(quietLog(), nil)

	phone := NewClient("c1", "u1", "s1", 4)
	laptop := NewClient("c2", "u1", "s2", 4)
	other := NewClient("c3", "u2", "s3", 4)
	for _, c := range []*Client{phone, laptop, other} {
		h.Register(c)
	}
	require.Equal(t, 2, h.Connected("u1"))

	h.SessionRevoked("u1", "s1")

	m := recv(t, phone)
	assert.Equal(t, TypeSessionRevoked, m.env.Type)
	assert.True(t, m.closeAfter)
	var p SessionRevokedPayload
	require.NoError(t, json.Unmarshal(m.env.Payload, &p))
	assert.Equal(t, SessionRevokedPayload{SessionID: "s1", Current: true}, p)

	m = recv(t, laptop)
	assert.False(t, m.closeAfter)

	assert.Empty(t, other.send)
}

func TestHub_AllSessionsRevokedClosesEveryConnection(t *testing.T) {
	t.Parallel()
	h := NewHub(quietLog(), nil)
	a := NewClient("c1", "u1", "", 4)
	b := NewClient("c2", "u1", "s2", 4)
	h.Register(a)
	h.Register(b)

	h.AllSessionsRevoked("u1", 3)

	for _, c := range []*Client{a, b} {
		m := recv(t, c)
		assert.Equal(t, TypeSessionsRevoked, m.env.Type)
		assert.True(t, m.closeAfter)
		assert.NotEmpty(t, m.env.ID)

		var p SessionsRevokedPayload
		require.NoError(t, json.Unmarshal(m.env.Payload, &p))
		assert.Equal(t, int64(3), p.Removed)
	}
}

func TestHub_FullQueueClosesClient(t *testing.T) {
	t.Parallel()
	h := NewHub(quietLog(), nil)
	c := NewClient("c1", "u1", "s1", 1)
	h.Register(c)

	require.True(t, c.offer(outbound{env: newEnvelope(TypePong, nil, h.now())}))
	h.SessionRevoked("u1", "s1")

	select {
	case <-c.Done():
	default:
		t.Fatal("client with a full queue should be closed")
	}
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	t.Parallel()
	h := NewHub(quietLog(), nil)
	c := NewClient("c1", "u1", "", 4)
	h.Register(c)

	h.Unregister(c)
	h.Unregister(c)
	assert.Zero(t, h.Connected("u1"))

	// Pushing to a user with no connections is a no-op.
	h.AllSessionsRevoked("u1", 0)
}
