package classify

import (
	"math"
	"slices"
)

const kmeansMaxIter = 100

// kmeansStops clusters sorted distinct values into k groups (1-D Lloyd) and
// returns the global minimum followed by the sorted cluster maxima.
func kmeansStops(d []float64, k int) []float64 {
	n := len(d)
	if k <= 1 {
		return []float64{d[0], d[n-1]}
	}
	if k >= n {
		return append([]float64(nil), d...)
	}

	centroids := make([]float64, k)
	for i := range centroids {
		centroids[i] = d[int(math.Round(float64(i)*float64(n-1)/float64(k-1)))]
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, v := range d {
			best, bestDist := 0, math.Inf(1)
			for c, cv := range centroids {
				if dist := math.Abs(v - cv); dist < bestDist {
					best, bestDist = c, dist
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([]float64, k)
		counts := make([]int, k)
		for i, v := range d {
			sums[assign[i]] += v
			counts[assign[i]]++
		}
		for c := range centroids {
			if counts[c] > 0 {
				centroids[c] = sums[c] / float64(counts[c])
			}
		}
	}

	maxima := make([]float64, k)
	seen := make([]bool, k)
	for i, v := range d {
		c := assign[i]
		if !seen[c] || v > maxima[c] {
			maxima[c], seen[c] = v, true
		}
	}
	out := []float64{d[0]}
	for c := range maxima {
		if seen[c] {
			out = append(out, maxima[c])
		}
	}
	slices.Sort(out)
	return out
}
