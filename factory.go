package ministreaming

import (
	"context"
	"fmt"
	"io"
	"os"

	go_i2cp "github.com/go-i2p/go-i2cp"
)

// Environment variables consulted by NewManagerFactory.
const (
	EnvI2CPHost = "I2CP_HOST"
	EnvI2CPPort = "I2CP_PORT"
)

// TransportConfig describes the session a factory asks a transport for.
type TransportConfig struct {
	Host string
	Port string

	// Identity, when set, is the destination the session must use.
	Identity *go_i2cp.Destination

	Properties map[string]string
}

// TransportFunc opens a MessageSession.
type TransportFunc func(ctx context.Context, cfg *TransportConfig) (MessageSession, error)

// DialI2CP opens a session on the router at cfg.Host:cfg.Port. The router
// assigns a fresh destination; a requested identity is refused with
// ErrIdentityReuseUnsupported.
func DialI2CP(ctx context.Context, cfg *TransportConfig) (MessageSession, error) {
	if cfg.Identity != nil {
		return nil, ErrIdentityReuseUnsupported
	}
	sc := DefaultI2CPSessionConfig()
	if cfg.Host != "" {
		sc.Host = cfg.Host
	}
	if cfg.Port != "" {
		sc.Port = cfg.Port
	}
	sc.Properties = cfg.Properties
	return NewI2CPSession(ctx, sc)
}

// ManagerFactory creates managers, each on its own session.
type ManagerFactory struct {
	Host       string
	Port       string
	Properties map[string]string

	// Transport opens sessions. Nil means DialI2CP.
	Transport TransportFunc
}

// NewManagerFactory returns a factory for the router named by I2CP_HOST
// and I2CP_PORT, defaulting to 127.0.0.1:7654.
func NewManagerFactory() *ManagerFactory {
	f := &ManagerFactory{Host: DefaultI2CPHost, Port: DefaultI2CPPort}
	if h := os.Getenv(EnvI2CPHost); h != "" {
		f.Host = h
	}
	if p := os.Getenv(EnvI2CPPort); p != "" {
		f.Port = p
	}
	return f
}

// CreateManager creates a manager with the factory's host, port and
// properties.
func (f *ManagerFactory) CreateManager(ctx context.Context) (*Manager, error) {
	return f.CreateManagerWithOptions(ctx, f.Host, f.Port, f.Properties)
}

// CreateManagerWithOptions creates a manager on a new session at host:port.
// props configure both the manager and the transport.
func (f *ManagerFactory) CreateManagerWithOptions(ctx context.Context, host, port string, props map[string]string) (*Manager, error) {
	return f.create(ctx, &TransportConfig{Host: host, Port: port, Properties: props})
}

// CreateManagerFromKey creates a manager whose session uses the identity
// read from keyStream, as written by WriteIdentity.
func (f *ManagerFactory) CreateManagerFromKey(ctx context.Context, keyStream io.Reader, host, port string, props map[string]string) (*Manager, error) {
	identity, err := ReadIdentity(keyStream)
	if err != nil {
		return nil, err
	}
	return f.create(ctx, &TransportConfig{Host: host, Port: port, Identity: identity, Properties: props})
}

func (f *ManagerFactory) create(ctx context.Context, tc *TransportConfig) (*Manager, error) {
	cfg, err := ParseManagerConfig(tc.Properties)
	if err != nil {
		return nil, fmt.Errorf("manager config: %w", err)
	}

	transport := f.Transport
	if transport == nil {
		transport = DialI2CP
	}
	session, err := transport(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m, err := NewManager(session, cfg)
	if err != nil {
		session.Close()
		return nil, err
	}
	return m, nil
}

// ReadIdentity reads a destination written by WriteIdentity.
func ReadIdentity(r io.Reader) (*go_i2cp.Destination, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	dest, err := unmarshalDestination(data)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	return dest, nil
}

// WriteIdentity writes dest in the form ReadIdentity and
// CreateManagerFromKey accept.
func WriteIdentity(w io.Writer, dest *go_i2cp.Destination) error {
	data, err := marshalDestination(dest)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}
