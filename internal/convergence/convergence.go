package convergence

import (
	"math"
	"time"
)

// priorityFactor is 2*ln(2): the urgency budget covers the expected spread
// time with a factor-2 margin.
const priorityFactor = 1.386

// AwareFraction returns the expected fraction of an n-node cluster that
// knows a fact t rounds after it was created.
func AwareFraction(n int, t float64) float64 {
	if n <= 1 {
		return 1
	}
	if t < 0 {
		t = 0
	}
	return 1 / (1 + float64(n-1)*math.Exp(-t))
}

// ExpectedAge returns the expected age, in rounds, of a vector entry when
// every exchange carries the whole vector.
func ExpectedAge(n int) float64 {
	if n <= 1 {
		return 0
	}
	return math.Log(float64(n))
}

// WindowSizeForAge returns the expected number of entries younger than t
// rounds that a node holds, clamped to [1, n-1].
func WindowSizeForAge(n int, t float64) int {
	if n <= 1 {
		return 0
	}
	// the epsilon keeps exact inverses of AgeForWindowSize from rounding up
	w := int(math.Ceil(float64(n)*AwareFraction(n, t) - 1e-9))
	if w < 1 {
		w = 1
	}
	if w > n-1 {
		w = n - 1
	}
	return w
}

// AgeForWindowSize is the inverse of WindowSizeForAge: the age cutoff, in
// rounds, that yields w entries on average. It is +Inf when w >= n.
func AgeForWindowSize(n, w int) float64 {
	if w <= 0 || n <= 1 {
		return 0
	}
	if w >= n {
		return math.Inf(1)
	}
	return math.Log(float64(n-1) * float64(w) / float64(n-w))
}

// BroadcastRounds returns the number of push rounds after which a single
// fact has reached every node with high probability (log2 n + ln n).
func BroadcastRounds(n int) float64 {
	if n <= 1 {
		return 0
	}
	return math.Log2(float64(n)) + math.Log(float64(n))
}

// MaxPriority returns the urgency assigned to freshly detected deaths. Each
// transmission decrements it, so an urgent fact rides at the head of the
// window for MaxPriority rounds.
func MaxPriority(n int) int {
	if n < 2 {
		return 0
	}
	p := int(math.Ceil(priorityFactor * math.Log(float64(n))))
	if p < 1 {
		p = 1
	}
	return p
}

// AutoUptoAge returns the age cutoff for an up-to-age window: the time for
// all but one node to learn a fact, 2 ln(n-1) rounds.
func AutoUptoAge(n int, round time.Duration) time.Duration {
	if n <= 2 {
		return round
	}
	rounds := 2 * math.Log(float64(n-1))
	d := time.Duration(rounds * float64(round))
	if d < round {
		d = round
	}
	return d
}

// AutoFixedK returns the fixed-window parameter K for an n-node cluster:
// enough slots to carry the entries younger than the expected age, plus the
// local entry.
func AutoFixedK(n int) int {
	k := WindowSizeForAge(n, ExpectedAge(n)) + 1
	if k < 2 {
		k = 2
	}
	return k
}
