package ministreaming

import (
	"fmt"
	"strconv"
	"time"
)

// Property keys understood by ParseSocketOptions. Durations are given in
// milliseconds; a negative read timeout blocks indefinitely.
const (
	PropBufferSize     = "i2p.streaming.bufferSize"
	PropConnectTimeout = "i2p.streaming.connectTimeout"
	PropReadTimeout    = "i2p.streaming.readTimeout"
	PropWriteTimeout   = "i2p.streaming.writeTimeout"
	PropMaxPacketSize  = "i2p.streaming.maxPacketSize"
	PropFlushDelay     = "i2p.streaming.flushDelay"
)

const (
	DefaultBufferSize     = 64 * 1024
	DefaultConnectTimeout = 60 * time.Second
	DefaultWriteTimeout   = 60 * time.Second
	DefaultMaxPacketSize  = 32 * 1024
	DefaultFlushDelay     = 10 * time.Millisecond

	// NoTimeout disables a read or write timeout.
	NoTimeout time.Duration = -1
)

// SocketOptions holds the per-socket tunables.
type SocketOptions struct {
	// BufferSize bounds the bytes a writer may queue ahead of the
	// forwarder. Inbound data is not bounded by the protocol; crossing
	// this size on the receive side is only reported.
	BufferSize int

	// ConnectTimeout bounds the SYN/ACK handshake.
	ConnectTimeout time.Duration

	// ReadTimeout bounds a single Read. Non-positive blocks indefinitely.
	ReadTimeout time.Duration

	// WriteTimeout bounds how long Write waits for buffer space.
	// Non-positive blocks indefinitely.
	WriteTimeout time.Duration

	// MaxPacketSize caps the payload of one DATA packet.
	MaxPacketSize int

	// FlushDelay is the quiet period after the last write before pending
	// bytes are sent as a packet.
	FlushDelay time.Duration
}

// DefaultSocketOptions returns the defaults: 64KiB buffer, 60s connect
// and write timeouts, blocking reads.
func DefaultSocketOptions() *SocketOptions {
	return &SocketOptions{
		BufferSize:     DefaultBufferSize,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    NoTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		MaxPacketSize:  DefaultMaxPacketSize,
		FlushDelay:     DefaultFlushDelay,
	}
}

// Clone returns a copy of the options.
func (o *SocketOptions) Clone() *SocketOptions {
	c := *o
	return &c
}

// Validate reports options the socket cannot run with.
func (o *SocketOptions) Validate() error {
	if o.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", o.BufferSize)
	}
	if o.MaxPacketSize <= 0 {
		return fmt.Errorf("max packet size must be positive, got %d", o.MaxPacketSize)
	}
	if o.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", o.ConnectTimeout)
	}
	if o.FlushDelay <= 0 {
		return fmt.Errorf("flush delay must be positive, got %s", o.FlushDelay)
	}
	return nil
}

// ParseSocketOptions builds options from a property bag, starting from the
// defaults. Unknown keys are ignored.
func ParseSocketOptions(props map[string]string) (*SocketOptions, error) {
	opts := DefaultSocketOptions()
	if err := applySocketProperties(opts, props); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func applySocketProperties(opts *SocketOptions, props map[string]string) error {
	var err error
	if opts.BufferSize, err = intProperty(props, PropBufferSize, opts.BufferSize); err != nil {
		return err
	}
	if opts.MaxPacketSize, err = intProperty(props, PropMaxPacketSize, opts.MaxPacketSize); err != nil {
		return err
	}
	if opts.ConnectTimeout, err = millisProperty(props, PropConnectTimeout, opts.ConnectTimeout); err != nil {
		return err
	}
	if opts.ReadTimeout, err = millisProperty(props, PropReadTimeout, opts.ReadTimeout); err != nil {
		return err
	}
	if opts.WriteTimeout, err = millisProperty(props, PropWriteTimeout, opts.WriteTimeout); err != nil {
		return err
	}
	if opts.FlushDelay, err = millisProperty(props, PropFlushDelay, opts.FlushDelay); err != nil {
		return err
	}
	return nil
}

func intProperty(props map[string]string, key string, def int) (int, error) {
	v, ok := props[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("property %s: %w", key, err)
	}
	return n, nil
}

func millisProperty(props map[string]string, key string, def time.Duration) (time.Duration, error) {
	v, ok := props[key]
	if !ok || v == "" {
		return def, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("property %s: %w", key, err)
	}
	if ms < 0 {
		return NoTimeout, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func boolProperty(props map[string]string, key string, def bool) (bool, error) {
	v, ok := props[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("property %s: %w", key, err)
	}
	return b, nil
}
