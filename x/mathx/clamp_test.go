package mathx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(5, 0, 10))
	assert.Equal(t, 0, Clamp(-3, 0, 10))
	assert.Equal(t, 10, Clamp(42, 0, 10))
	assert.Equal(t, 10, Clamp(42, 10, 0), "swapped bounds")
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, uint32(50), OrDefault[uint32](0, 50, 10, 1000))
	assert.Equal(t, uint32(10), OrDefault[uint32](3, 50, 10, 1000))
	assert.Equal(t, uint32(1000), OrDefault[uint32](5000, 50, 10, 1000))
	assert.Equal(t, uint32(200), OrDefault[uint32](200, 50, 10, 1000))
}
