package ministreaming

import (
	"crypto/sha256"
	"strings"
	"sync"

	"github.com/go-i2p/common/base64"
	go_i2cp "github.com/go-i2p/go-i2cp"
	"github.com/rs/zerolog"
)

// AccessListMode specifies how the access list is used.
type AccessListMode int

const (
	// AccessListModeDisabled means no access list filtering (default)
	AccessListModeDisabled AccessListMode = iota
	// AccessListModeWhitelist accepts SYNs only from listed destinations
	AccessListModeWhitelist
	// AccessListModeBlacklist refuses SYNs from listed destinations
	AccessListModeBlacklist
)

// AccessListConfig configures destination-based filtering of inbound SYNs,
// following the i2cp.accessList, i2cp.enableAccessList and
// i2cp.enableBlackList router options.
type AccessListConfig struct {
	Mode AccessListMode

	// Hashes lists peer hashes in I2P Base64: the SHA-256 of the peer's
	// serialized destination.
	Hashes []string

	// DisableRejectLogging disables log warnings when SYNs are refused
	DisableRejectLogging bool
}

// DefaultAccessListConfig returns the default (disabled) configuration.
func DefaultAccessListConfig() *AccessListConfig {
	return &AccessListConfig{Mode: AccessListModeDisabled}
}

// accessFilter decides whether a peer may open a connection.
type accessFilter struct {
	mu      sync.RWMutex
	config  *AccessListConfig
	hashSet map[string]struct{}
	log     zerolog.Logger
}

func newAccessFilter(config *AccessListConfig, logger zerolog.Logger) *accessFilter {
	if config == nil {
		config = DefaultAccessListConfig()
	}
	af := &accessFilter{config: config, log: logger}
	af.rebuildHashSetLocked()
	return af
}

// SetConfig replaces the configuration.
func (af *accessFilter) SetConfig(config *AccessListConfig) {
	af.mu.Lock()
	defer af.mu.Unlock()
	if config == nil {
		config = DefaultAccessListConfig()
	}
	af.config = config
	af.rebuildHashSetLocked()
}

// Must be called with af.mu held.
func (af *accessFilter) rebuildHashSetLocked() {
	af.hashSet = make(map[string]struct{}, len(af.config.Hashes))
	for _, hash := range af.config.Hashes {
		if normalized := af.normalizeHash(hash); normalized != "" {
			af.hashSet[normalized] = struct{}{}
		}
	}
}

// normalizeHash re-encodes a Base64 hash so equal hashes compare equal.
func (af *accessFilter) normalizeHash(hash string) string {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return ""
	}
	decoded, err := base64.DecodeString(hash)
	if err != nil || len(decoded) != sha256.Size {
		af.log.Warn().Str("hash", hash).Msg("ignoring malformed hash in access list")
		return ""
	}
	return base64.EncodeToString(decoded)
}

// IsAllowed reports whether a SYN from dest may proceed.
func (af *accessFilter) IsAllowed(dest *go_i2cp.Destination) bool {
	af.mu.RLock()
	defer af.mu.RUnlock()

	if af.config.Mode == AccessListModeDisabled {
		return true
	}
	destHash := DestinationHash(dest)
	if destHash == "" {
		// a peer we cannot hash can never be on a whitelist
		return af.config.Mode != AccessListModeWhitelist
	}
	_, inList := af.hashSet[destHash]
	switch af.config.Mode {
	case AccessListModeWhitelist:
		return inList
	case AccessListModeBlacklist:
		return !inList
	default:
		return true
	}
}

// Check returns an *AccessDeniedError when dest is refused.
func (af *accessFilter) Check(dest *go_i2cp.Destination) error {
	if af.IsAllowed(dest) {
		return nil
	}

	af.mu.RLock()
	mode, quiet := af.config.Mode, af.config.DisableRejectLogging
	af.mu.RUnlock()

	reason := "destination in blacklist"
	if mode == AccessListModeWhitelist {
		reason = "destination not in whitelist"
	}
	if !quiet {
		af.log.Warn().
			Str("peer", shortHash(DestinationHash(dest))).
			Str("reason", reason).
			Msg("incoming connection rejected by access list")
	}
	return &AccessDeniedError{Reason: reason}
}

// AddHash adds a hash to the list.
func (af *accessFilter) AddHash(hash string) {
	af.mu.Lock()
	defer af.mu.Unlock()
	normalized := af.normalizeHash(hash)
	if normalized == "" {
		return
	}
	af.config.Hashes = append(af.config.Hashes, hash)
	af.hashSet[normalized] = struct{}{}
}

// RemoveHash removes a hash from the list.
func (af *accessFilter) RemoveHash(hash string) {
	af.mu.Lock()
	defer af.mu.Unlock()
	normalized := af.normalizeHash(hash)
	if normalized == "" {
		return
	}
	delete(af.hashSet, normalized)
	kept := af.config.Hashes[:0]
	for _, h := range af.config.Hashes {
		if af.normalizeHash(h) != normalized {
			kept = append(kept, h)
		}
	}
	af.config.Hashes = kept
}

// Count returns the number of distinct hashes in the list.
func (af *accessFilter) Count() int {
	af.mu.RLock()
	defer af.mu.RUnlock()
	return len(af.hashSet)
}

// AccessDeniedError is returned when a SYN is refused by the access list.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return "access denied: " + e.Reason
}

// DestinationHash returns the I2P Base64 SHA-256 of a destination's
// serialized form, the value access lists are written in.
func DestinationHash(dest *go_i2cp.Destination) string {
	if dest == nil {
		return ""
	}
	data, err := marshalDestination(dest)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return base64.EncodeToString(sum[:])
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12] + "..."
	}
	if hash == "" {
		return "unknown"
	}
	return hash
}

// ParseHashList parses a comma or space separated list of hashes.
func ParseHashList(list string) []string {
	if list == "" {
		return nil
	}
	return strings.Fields(strings.ReplaceAll(list, ",", " "))
}
