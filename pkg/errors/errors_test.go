package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	err := New(ClassPermission, "camera access denied")
	assert.Equal(t, ClassPermission, ClassOf(err))

	wrapped := fmt.Errorf("starting stream: %w", err)
	assert.Equal(t, ClassPermission, ClassOf(wrapped))
	assert.True(t, IsPermission(wrapped))

	// Unclassified errors default to the retryable class.
	assert.Equal(t, ClassSignaling, ClassOf(fmt.Errorf("plain")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("write: broken pipe")
	err := Wrap(cause, ClassSignaling, "sending answer")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "signaling")
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestIsNegotiation(t *testing.T) {
	err := Wrap(fmt.Errorf("no session"), ClassNegotiation, "answer for unknown viewer")
	assert.True(t, IsNegotiation(err))
	assert.False(t, IsNegotiation(New(ClassConnectivity, "ice failed")))
}
