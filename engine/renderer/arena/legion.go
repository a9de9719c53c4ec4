package arena

import (
	"math/bits"

	"github.com/spaghettifunk/anima-stream/engine/core"
)

const (
	NumSubBlocks = 32
	allFree      = ^uint32(0)
)

/**
 * @brief Occupancy of the 32 sub-blocks of one heap. freeBlocks[n] has bit b
 * set when sub-blocks b..b+n are all free, so a run of n+1 blocks is found
 * with a single trailing zero count.
 */
type Legion struct {
	freeBlocks [NumSubBlocks]uint32
	longestRun uint32
}

func NewLegion() *Legion {
	l := &Legion{}
	for i := range l.freeBlocks {
		l.freeBlocks[i] = allFree
	}
	l.longestRun = NumSubBlocks
	return l
}

func (l *Legion) Full() bool {
	return l.freeBlocks[0] == 0
}

func (l *Legion) Empty() bool {
	return l.freeBlocks[0] == allFree
}

func (l *Legion) LongestRun() uint32 {
	return l.longestRun
}

// Allocate reserves numBlocks contiguous sub-blocks and returns their mask and
// the index of the first one.
func (l *Legion) Allocate(numBlocks uint32) (mask, offset uint32, ok bool) {
	if numBlocks == 0 || numBlocks > l.longestRun {
		return 0, 0, false
	}

	blockMask := allFree
	if numBlocks < NumSubBlocks {
		blockMask = (uint32(1) << numBlocks) - 1
	}

	b := uint32(bits.TrailingZeros32(l.freeBlocks[numBlocks-1]))
	mask = blockMask << b
	l.freeBlocks[0] &^= mask
	l.updateLongestRun()
	return mask, b, true
}

func (l *Legion) Free(mask uint32) {
	if l.freeBlocks[0]&mask != 0 {
		core.LogError("legion heap double free of mask %032b", mask)
		return
	}
	l.freeBlocks[0] |= mask
	l.updateLongestRun()
}

func (l *Legion) updateLongestRun() {
	f := l.freeBlocks[0]
	l.longestRun = 0
	for f != 0 {
		l.freeBlocks[l.longestRun] = f
		l.longestRun++
		f &= f >> 1
	}
}
