package classify

import "math"

// jenksStops runs Fisher-Jenks natural breaks over sorted distinct values
// and returns the global minimum followed by each class's upper bound.
func jenksStops(d []float64, k int) []float64 {
	n := len(d)
	if k >= n {
		return append([]float64(nil), d...)
	}

	lower := make([][]int, n+1)
	variance := make([][]float64, n+1)
	for i := range lower {
		lower[i] = make([]int, k+1)
		variance[i] = make([]float64, k+1)
	}
	for j := 1; j <= k; j++ {
		lower[1][j] = 1
		for i := 2; i <= n; i++ {
			variance[i][j] = math.Inf(1)
		}
	}

	for l := 2; l <= n; l++ {
		var s1, s2, w, v float64
		for m := 1; m <= l; m++ {
			i3 := l - m + 1
			val := d[i3-1]
			s1 += val
			s2 += val * val
			w++
			v = s2 - s1*s1/w
			i4 := i3 - 1
			if i4 == 0 {
				continue
			}
			for j := 2; j <= k; j++ {
				if variance[l][j] >= v+variance[i4][j-1] {
					lower[l][j] = i3
					variance[l][j] = v + variance[i4][j-1]
				}
			}
		}
		lower[l][1] = 1
		variance[l][1] = v
	}

	out := make([]float64, k+1)
	out[0], out[k] = d[0], d[n-1]
	end := n
	for c := k; c >= 2; c-- {
		start := lower[end][c]
		out[c-1] = d[start-2]
		end = start - 1
	}
	return out
}
