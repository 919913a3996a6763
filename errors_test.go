package ministreaming

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutErrorsAreNetErrors(t *testing.T) {
	for _, err := range []error{ErrHandshakeTimeout, errReadTimeout, errWriteTimeout} {
		var netErr net.Error
		require.True(t, errors.As(err, &netErr), err.Error())
		assert.True(t, netErr.Timeout())
	}
}

func TestI2PErrorUnwrap(t *testing.T) {
	err := &I2PError{Op: "send SYN", Err: ErrSessionClosed}

	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, "i2p: send SYN: session closed", err.Error())
	assert.Equal(t, "i2p: ping failed", (&I2PError{Op: "ping"}).Error())
}
