package scheduler

import "github.com/tracksynth/tracksynth/pkg/core"

// quota tracks emitted records per class against a common target. Classes
// without entities can never emit and count as met.
type quota struct {
	target  int
	present map[core.Class]bool
	counts  map[core.Class]int
}

func newQuota(target int, population map[core.Class]int) *quota {
	q := &quota{
		target:  target,
		present: make(map[core.Class]bool),
		counts:  make(map[core.Class]int),
	}
	for c, n := range population {
		if n > 0 {
			q.present[c] = true
		}
	}
	return q
}

func (q *quota) met(c core.Class) bool {
	return classMet(q.counts[c], q.target, q.present[c])
}

func (q *quota) allMet() bool {
	for c := range q.present {
		if !q.met(c) {
			return false
		}
	}
	return true
}

func (q *quota) add(c core.Class) {
	q.counts[c]++
}

func (q *quota) total() int {
	var n int
	for _, v := range q.counts {
		n += v
	}
	return n
}

func (q *quota) snapshot() map[core.Class]int {
	out := make(map[core.Class]int, len(q.counts))
	for c, n := range q.counts {
		out[c] = n
	}
	return out
}

// classMet is true once a class emitted target records or cannot emit at all.
func classMet(count, target int, present bool) bool {
	return !present || count >= target
}
