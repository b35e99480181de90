package core

// DefaultPageSize is the widest block range requested in one log query.
const DefaultPageSize uint64 = 1000

type blockRange struct {
	from, to uint64
}

// pages splits [from, to] into consecutive ranges of at most size blocks.
func pages(from, to, size uint64) []blockRange {
	if size == 0 {
		size = DefaultPageSize
	}
	var out []blockRange
	for start := from; start <= to; {
		end := to
		if to-start >= size {
			end = start + size - 1
		}
		out = append(out, blockRange{from: start, to: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return out
}
