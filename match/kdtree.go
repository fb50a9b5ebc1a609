package match

import (
	"gonum.org/v1/gonum/spatial/kdtree"
)

// featurePoint is a descriptor vector tagged with its index in the target
// set, so tree queries can report which descriptor matched.
type featurePoint struct {
	vec   []float64
	index int
}

var (
	_ kdtree.Comparable = featurePoint{}
	_ kdtree.Interface  = featurePoints(nil)
)

func (p featurePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(featurePoint)
	return p.vec[d] - q.vec[d]
}

func (p featurePoint) Dims() int { return len(p.vec) }

func (p featurePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(featurePoint)
	return distSq(p.vec, q.vec)
}

// featurePoints implements kdtree.Interface for tree construction.
type featurePoints []featurePoint

func (p featurePoints) Index(i int) kdtree.Comparable { return p[i] }
func (p featurePoints) Len() int                      { return len(p) }
func (p featurePoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p featurePoints) Pivot(d kdtree.Dim) int {
	return featurePlane{featurePoints: p, Dim: d}.Pivot()
}

// featurePlane sorts featurePoints along a single dimension.
type featurePlane struct {
	featurePoints
	kdtree.Dim
}

func (p featurePlane) Less(i, j int) bool {
	return p.featurePoints[i].vec[p.Dim] < p.featurePoints[j].vec[p.Dim]
}
func (p featurePlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}
func (p featurePlane) Slice(start, end int) kdtree.SortSlicer {
	p.featurePoints = p.featurePoints[start:end]
	return p
}
func (p featurePlane) Swap(i, j int) {
	p.featurePoints[i], p.featurePoints[j] = p.featurePoints[j], p.featurePoints[i]
}

// treeNearest answers nearest-neighbour queries against ref via a kd-tree.
// Worth the build cost once the reference set is non-trivial.
func treeNearest(queries, ref [][]float64) []int {
	pts := make(featurePoints, len(ref))
	for i, f := range ref {
		pts[i] = featurePoint{vec: f, index: i}
	}
	tree := kdtree.New(pts, false)

	out := make([]int, len(queries))
	for qi, q := range queries {
		got, _ := tree.Nearest(featurePoint{vec: q, index: -1})
		out[qi] = got.(featurePoint).index
	}
	return out
}
