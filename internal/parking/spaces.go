package parking

// spacePool is the occupancy bitmap for one vehicle class. Space numbers are
// 1-based; index i of occupied holds space i+1.
type spacePool struct {
	rate     float64
	occupied []bool
}

func newSpacePool(capacity int, rate float64) *spacePool {
	if capacity < 0 {
		capacity = 0
	}
	return &spacePool{
		rate:     rate,
		occupied: make([]bool, capacity),
	}
}

func (p *spacePool) capacity() int {
	return len(p.occupied)
}

// claim marks the lowest free space occupied and returns its number.
func (p *spacePool) claim() (int, bool) {
	for i, taken := range p.occupied {
		if !taken {
			p.occupied[i] = true
			return i + 1, true
		}
	}
	return 0, false
}

func (p *spacePool) release(space int) {
	if space < 1 || space > len(p.occupied) {
		return
	}
	p.occupied[space-1] = false
}

func (p *spacePool) free() int {
	count := 0
	for _, taken := range p.occupied {
		if !taken {
			count++
		}
	}
	return count
}
