package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDivRoundUp(t *testing.T) {
	assert.Equal(t, uint32(2), DivRoundUp(uint32(33), 32))
	assert.Equal(t, uint32(1), DivRoundUp(uint32(32), 32))
	assert.Equal(t, uint32(0), DivRoundUp(uint32(0), 32))
	assert.Equal(t, uint64(5), DivRoundUp(uint64(40), 8))
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint32(64), AlignUp(uint32(33), 32))
	assert.Equal(t, uint32(32), AlignUp(uint32(10), 32))
	assert.Equal(t, uint32(1024), AlignUp(uint32(1000), 1024))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(9, 0, 5))
	assert.Equal(t, float32(0), Clamp(float32(-1), 0, 1))
	assert.Equal(t, uint8(3), Clamp(uint8(3), 1, 4))
}
