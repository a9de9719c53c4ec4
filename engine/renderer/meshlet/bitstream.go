package meshlet

// bitWriter packs values LSB first into 32 bit words.
type bitWriter struct {
	words []uint32
	bit   uint32
}

func (w *bitWriter) write(value, bits uint32) {
	if bits == 0 {
		return
	}
	value &= uint32(uint64(1)<<bits - 1)
	if w.bit == 0 {
		w.words = append(w.words, 0)
	}
	w.words[len(w.words)-1] |= value << w.bit
	if w.bit+bits > 32 {
		w.words = append(w.words, value>>(32-w.bit))
	}
	w.bit = (w.bit + bits) % 32
}

// align moves to a fresh word and returns its index.
func (w *bitWriter) align() uint32 {
	w.bit = 0
	return uint32(len(w.words))
}

func readBits(words []uint32, bitOffset, bits uint32) uint32 {
	if bits == 0 {
		return 0
	}
	word := bitOffset / 32
	shift := bitOffset % 32
	value := uint64(words[word]) >> shift
	if shift+bits > 32 {
		value |= uint64(words[word+1]) << (32 - shift)
	}
	return uint32(value & (uint64(1)<<bits - 1))
}
