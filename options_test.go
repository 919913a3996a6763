package ministreaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSocketOptions(t *testing.T) {
	opts := DefaultSocketOptions()

	assert.Equal(t, 64*1024, opts.BufferSize)
	assert.Equal(t, 60*time.Second, opts.ConnectTimeout)
	assert.Equal(t, NoTimeout, opts.ReadTimeout)
	assert.Equal(t, 60*time.Second, opts.WriteTimeout)
	assert.Equal(t, 32*1024, opts.MaxPacketSize)
	assert.NoError(t, opts.Validate())
}

func TestParseSocketOptions(t *testing.T) {
	opts, err := ParseSocketOptions(map[string]string{
		PropBufferSize:     "4096",
		PropConnectTimeout: "1500",
		PropReadTimeout:    "250",
		PropWriteTimeout:   "-1",
		PropMaxPacketSize:  "1024",
		"unrelated.key":    "x",
	})
	require.NoError(t, err)

	assert.Equal(t, 4096, opts.BufferSize)
	assert.Equal(t, 1500*time.Millisecond, opts.ConnectTimeout)
	assert.Equal(t, 250*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, NoTimeout, opts.WriteTimeout)
	assert.Equal(t, 1024, opts.MaxPacketSize)
	assert.Equal(t, DefaultFlushDelay, opts.FlushDelay)
}

func TestParseSocketOptionsErrors(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]string
	}{
		{name: "non numeric size", props: map[string]string{PropBufferSize: "big"}},
		{name: "zero buffer", props: map[string]string{PropBufferSize: "0"}},
		{name: "zero packet size", props: map[string]string{PropMaxPacketSize: "0"}},
		{name: "bad timeout", props: map[string]string{PropConnectTimeout: "soon"}},
		{name: "negative connect timeout", props: map[string]string{PropConnectTimeout: "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSocketOptions(tt.props)
			assert.Error(t, err)
		})
	}
}

func TestSocketOptionsClone(t *testing.T) {
	opts := DefaultSocketOptions()
	c := opts.Clone()
	c.BufferSize = 1

	assert.Equal(t, DefaultBufferSize, opts.BufferSize)
}

func TestParseManagerConfig(t *testing.T) {
	cfg, err := ParseManagerConfig(map[string]string{
		PropAcceptTimeout:        "200",
		PropMaxConcurrentStreams: "3",
		PropMaxConnsPerMinute:    "10",
		PropEnableBlackList:      "true",
		PropAccessList:           "AAAA, BBBB",
		PropBufferSize:           "2048",
	})
	require.NoError(t, err)

	assert.Equal(t, 200*time.Millisecond, cfg.AcceptTimeout)
	assert.Equal(t, DefaultDestroyTimeout, cfg.DestroyTimeout)
	assert.Equal(t, 3, cfg.Limits.MaxConcurrentStreams)
	assert.Equal(t, 10, cfg.Limits.MaxConnsPerMinute)
	assert.Equal(t, AccessListModeBlacklist, cfg.AccessList.Mode)
	assert.Equal(t, []string{"AAAA", "BBBB"}, cfg.AccessList.Hashes)
	assert.Equal(t, 2048, cfg.SocketOptions.BufferSize)
}

func TestParseManagerConfigWhitelistWins(t *testing.T) {
	cfg, err := ParseManagerConfig(map[string]string{
		PropEnableAccessList: "true",
		PropEnableBlackList:  "true",
	})
	require.NoError(t, err)
	assert.Equal(t, AccessListModeWhitelist, cfg.AccessList.Mode)

	_, err = ParseManagerConfig(map[string]string{PropEnableAccessList: "maybe"})
	assert.Error(t, err)
}

func TestManagerConfigWithDefaults(t *testing.T) {
	cfg := (&ManagerConfig{AcceptTimeout: time.Second}).withDefaults()

	assert.Equal(t, time.Second, cfg.AcceptTimeout)
	assert.NotNil(t, cfg.SocketOptions)
	assert.NotNil(t, cfg.AccessList)
	assert.NotNil(t, cfg.Limits)
	assert.Equal(t, DefaultDestroyTimeout, cfg.DestroyTimeout)

	assert.NotNil(t, (*ManagerConfig)(nil).withDefaults().SocketOptions)
}
