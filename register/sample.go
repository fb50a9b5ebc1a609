package register

import "math/rand"

// sampler draws minimal samples of distinct correspondence indices using a
// partial Fisher-Yates shuffle over a persistent index array. This avoids
// the O(n) rejection loops a draw-and-retry scheme would need on small
// correspondence lists.
type sampler struct {
	rng *rand.Rand
	idx []int
}

func newSampler(n int, rng *rand.Rand) *sampler {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return &sampler{rng: rng, idx: idx}
}

// draw fills out with len(out) distinct indices in [0, n). Requires
// len(out) <= n.
func (s *sampler) draw(out []int) {
	n := len(s.idx)
	for i := range out {
		j := i + s.rng.Intn(n-i)
		s.idx[i], s.idx[j] = s.idx[j], s.idx[i]
		out[i] = s.idx[i]
	}
}
