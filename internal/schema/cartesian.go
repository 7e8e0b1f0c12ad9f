package schema

// Product walks the cartesian product of candidate value lists. The last
// list varies fastest.
type Product struct {
	sets    [][]string
	idx     []int
	current []string
	started bool
	done    bool
}

// NewProduct creates a product iterator. An empty list of sets yields a
// single empty combination; any empty set yields nothing.
func NewProduct(sets [][]string) *Product {
	p := &Product{
		sets:    sets,
		idx:     make([]int, len(sets)),
		current: make([]string, len(sets)),
	}
	for _, s := range sets {
		if len(s) == 0 {
			p.done = true
		}
	}
	return p
}

// Size returns the number of combinations.
func (p *Product) Size() int {
	n := 1
	for _, s := range p.sets {
		n *= len(s)
	}
	return n
}

// Next advances to the next combination.
func (p *Product) Next() bool {
	if p.done {
		return false
	}
	if !p.started {
		p.started = true
	} else {
		i := len(p.idx) - 1
		for ; i >= 0; i-- {
			p.idx[i]++
			if p.idx[i] < len(p.sets[i]) {
				break
			}
			p.idx[i] = 0
		}
		if i < 0 {
			p.done = true
			return false
		}
	}
	for i, j := range p.idx {
		p.current[i] = p.sets[i][j]
	}
	return true
}

// Values returns the current combination. The slice is reused by Next.
func (p *Product) Values() []string {
	return p.current
}

// Reset restarts the walk.
func (p *Product) Reset() {
	for i := range p.idx {
		p.idx[i] = 0
	}
	p.started = false
	p.done = false
	for _, s := range p.sets {
		if len(s) == 0 {
			p.done = true
		}
	}
}
