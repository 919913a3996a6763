package ministreaming

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	PropAcceptTimeout          = "i2p.streaming.acceptTimeout"
	PropDestroyTimeout         = "i2p.streaming.destroyTimeout"
	PropMaxConcurrentStreams   = "i2p.streaming.maxConcurrentStreams"
	PropMaxConnsPerMinute      = "i2p.streaming.maxConnsPerMinute"
	PropMaxTotalConnsPerMinute = "i2p.streaming.maxTotalConnsPerMinute"
	PropAccessList             = "i2cp.accessList"
	PropEnableAccessList       = "i2cp.enableAccessList"
	PropEnableBlackList        = "i2cp.enableBlackList"
)

const (
	DefaultAcceptTimeout  = 5 * time.Second
	DefaultDestroyTimeout = 10 * time.Second
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// SocketOptions are the defaults for sockets created without explicit
	// options and for every accepted socket.
	SocketOptions *SocketOptions

	// AcceptTimeout bounds how long an inbound SYN waits for Accept before
	// it is refused.
	AcceptTimeout time.Duration

	// DestroyTimeout bounds how long Destroy waits for sockets to finish
	// their close exchange before purging them.
	DestroyTimeout time.Duration

	AccessList *AccessListConfig
	Limits     *ConnectionLimitsConfig

	// Logger overrides the global zerolog logger.
	Logger *zerolog.Logger
}

// DefaultManagerConfig returns a config with every policy disabled.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		SocketOptions:  DefaultSocketOptions(),
		AcceptTimeout:  DefaultAcceptTimeout,
		DestroyTimeout: DefaultDestroyTimeout,
		AccessList:     DefaultAccessListConfig(),
		Limits:         DefaultConnectionLimitsConfig(),
	}
}

// ParseManagerConfig builds a config from a property bag, starting from
// the defaults. Socket option keys set the default socket options.
func ParseManagerConfig(props map[string]string) (*ManagerConfig, error) {
	cfg := DefaultManagerConfig()

	opts, err := ParseSocketOptions(props)
	if err != nil {
		return nil, err
	}
	cfg.SocketOptions = opts

	if cfg.AcceptTimeout, err = millisProperty(props, PropAcceptTimeout, cfg.AcceptTimeout); err != nil {
		return nil, err
	}
	if cfg.DestroyTimeout, err = millisProperty(props, PropDestroyTimeout, cfg.DestroyTimeout); err != nil {
		return nil, err
	}

	limits := cfg.Limits
	if limits.MaxConcurrentStreams, err = intProperty(props, PropMaxConcurrentStreams, limits.MaxConcurrentStreams); err != nil {
		return nil, err
	}
	if limits.MaxConnsPerMinute, err = intProperty(props, PropMaxConnsPerMinute, limits.MaxConnsPerMinute); err != nil {
		return nil, err
	}
	if limits.MaxTotalConnsPerMinute, err = intProperty(props, PropMaxTotalConnsPerMinute, limits.MaxTotalConnsPerMinute); err != nil {
		return nil, err
	}

	enableAccess, err := boolProperty(props, PropEnableAccessList, false)
	if err != nil {
		return nil, err
	}
	enableBlack, err := boolProperty(props, PropEnableBlackList, false)
	if err != nil {
		return nil, err
	}
	switch {
	case enableAccess:
		cfg.AccessList.Mode = AccessListModeWhitelist
	case enableBlack:
		cfg.AccessList.Mode = AccessListModeBlacklist
	}
	cfg.AccessList.Hashes = ParseHashList(props[PropAccessList])

	return cfg, nil
}

// withDefaults fills nil or zero fields from DefaultManagerConfig.
func (c *ManagerConfig) withDefaults() *ManagerConfig {
	def := DefaultManagerConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.SocketOptions == nil {
		out.SocketOptions = def.SocketOptions
	}
	if out.AcceptTimeout <= 0 {
		out.AcceptTimeout = def.AcceptTimeout
	}
	if out.DestroyTimeout <= 0 {
		out.DestroyTimeout = def.DestroyTimeout
	}
	if out.AccessList == nil {
		out.AccessList = def.AccessList
	}
	if out.Limits == nil {
		out.Limits = def.Limits
	}
	return &out
}
