package lod

import (
	"container/heap"
	"math"

	"github.com/paulmach/orb"
)

// arcWeights computes Visvalingam effective areas for every point of arc.
// Endpoints are never removed and weigh +Inf. Weights are made monotonic so
// a point never weighs less than one removed before it.
func arcWeights(arc []orb.Point) []float64 {
	n := len(arc)
	w := make([]float64, n)
	if n == 0 {
		return w
	}
	w[0], w[n-1] = math.Inf(1), math.Inf(1)
	if n < 3 {
		return w
	}

	prev := make([]int, n)
	next := make([]int, n)
	items := make([]*vertex, n)
	h := make(vertexHeap, 0, n-2)
	for i := 1; i < n-1; i++ {
		prev[i], next[i] = i-1, i+1
		items[i] = &vertex{idx: i, area: triangleArea(arc[i-1], arc[i], arc[i+1])}
		h = append(h, items[i])
	}
	for i := range h {
		h[i].pos = i
	}
	heap.Init(&h)

	var maxArea float64
	for h.Len() > 0 {
		v := heap.Pop(&h).(*vertex)
		area := math.Max(v.area, maxArea)
		maxArea = area
		w[v.idx] = area

		p, q := prev[v.idx], next[v.idx]
		next[p], prev[q] = q, p
		if p > 0 {
			items[p].area = triangleArea(arc[prev[p]], arc[p], arc[q])
			heap.Fix(&h, items[p].pos)
		}
		if q < n-1 {
			items[q].area = triangleArea(arc[p], arc[q], arc[next[q]])
			heap.Fix(&h, items[q].pos)
		}
	}
	return w
}

func triangleArea(a, b, c orb.Point) float64 {
	return math.Abs((a[0]-c[0])*(b[1]-a[1])-(a[0]-b[0])*(c[1]-a[1])) / 2
}

type vertex struct {
	idx  int
	area float64
	pos  int
}

type vertexHeap []*vertex

func (h vertexHeap) Len() int { return len(h) }

func (h vertexHeap) Less(i, j int) bool {
	if h[i].area == h[j].area {
		return h[i].idx < h[j].idx
	}
	return h[i].area < h[j].area
}

func (h vertexHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *vertexHeap) Push(x any) {
	v := x.(*vertex)
	v.pos = len(*h)
	*h = append(*h, v)
}

func (h *vertexHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	v.pos = -1
	return v
}
