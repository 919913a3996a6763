package ministreaming

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliveryReport struct {
	nonce     uint32
	delivered bool
}

// recordingListener collects everything a session reports.
type recordingListener struct {
	messages chan []byte
	statuses chan deliveryReport

	mu           sync.Mutex
	disconnected int
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		messages: make(chan []byte, 256),
		statuses: make(chan deliveryReport, 256),
	}
}

func (l *recordingListener) MessageAvailable(payload []byte) { l.messages <- payload }

func (l *recordingListener) MessageStatus(nonce uint32, delivered bool) {
	l.statuses <- deliveryReport{nonce: nonce, delivered: delivered}
}

func (l *recordingListener) Disconnected() {
	l.mu.Lock()
	l.disconnected++
	l.mu.Unlock()
}

func newLoopbackPair(t *testing.T) (a, b *LoopbackSession, la, lb *recordingListener) {
	t.Helper()
	network := NewLoopbackNetwork()
	a, err := network.NewSession(nil)
	require.NoError(t, err)
	b, err = network.NewSession(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	la, lb = newRecordingListener(), newRecordingListener()
	a.SetListener(la)
	b.SetListener(lb)
	return a, b, la, lb
}

func TestLoopback_DeliversInOrder(t *testing.T) {
	a, b, la, lb := newLoopbackPair(t)

	for i := 0; i < 100; i++ {
		require.NoError(t, a.SendMessage(b.Destination(), []byte{byte(i)}, uint32(i+1)))
	}
	for i := 0; i < 100; i++ {
		select {
		case msg := <-lb.messages:
			require.Equal(t, []byte{byte(i)}, msg)
		case <-time.After(time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}
	for i := 0; i < 100; i++ {
		select {
		case r := <-la.statuses:
			assert.True(t, r.delivered)
		case <-time.After(time.Second):
			t.Fatal("missing delivery status")
		}
	}
}

func TestLoopback_CopiesPayload(t *testing.T) {
	a, b, _, lb := newLoopbackPair(t)

	payload := []byte("original")
	require.NoError(t, a.SendMessage(b.Destination(), payload, 0))
	copy(payload, "mutated!")

	select {
	case msg := <-lb.messages:
		assert.Equal(t, "original", string(msg))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestLoopback_UnknownDestination(t *testing.T) {
	network := NewLoopbackNetwork()
	a, err := network.NewSession(nil)
	require.NoError(t, err)
	defer a.Close()
	la := newRecordingListener()
	a.SetListener(la)

	nowhere, err := network.NewDestination()
	require.NoError(t, err)

	require.NoError(t, a.SendMessage(nowhere, []byte{1}, 42))
	select {
	case r := <-la.statuses:
		assert.Equal(t, deliveryReport{nonce: 42, delivered: false}, r)
	case <-time.After(time.Second):
		t.Fatal("no failure reported")
	}

	// untracked messages get no report
	require.NoError(t, a.SendMessage(nowhere, []byte{1}, 0))
	select {
	case r := <-la.statuses:
		t.Fatalf("unexpected status %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoopback_Close(t *testing.T) {
	a, b, _, _ := newLoopbackPair(t)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.SendMessage(b.Destination(), []byte{1}, 0), ErrSessionClosed)
	assert.Error(t, b.SendMessage(nil, []byte{1}, 0))
}

func TestLoopback_Identity(t *testing.T) {
	network := NewLoopbackNetwork()
	identity, err := network.NewDestination()
	require.NoError(t, err)

	first, err := network.NewSession(identity)
	require.NoError(t, err)
	assert.Equal(t, identity.Base64(), first.Destination().Base64())

	_, err = network.NewSession(identity)
	assert.Error(t, err, "a destination can only be attached once")

	require.NoError(t, first.Close())
	second, err := network.NewSession(identity)
	require.NoError(t, err)
	defer second.Close()
}

func TestLoopback_Disconnect(t *testing.T) {
	a, b, la, _ := newLoopbackPair(t)

	a.Disconnect()
	la.mu.Lock()
	assert.Equal(t, 1, la.disconnected)
	la.mu.Unlock()
	assert.ErrorIs(t, a.SendMessage(b.Destination(), []byte{1}, 0), ErrSessionClosed)
}
