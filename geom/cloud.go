package geom

// Cloud is an ordered set of 3D points. Clouds are treated as immutable
// once handed to a registration call.
type Cloud []Vec3

// Centroid returns the mean position of the cloud, or the zero vector for
// an empty cloud.
func (c Cloud) Centroid() Vec3 {
	if len(c) == 0 {
		return Vec3{}
	}
	var sum Vec3
	for _, p := range c {
		sum = sum.Add(p)
	}
	return sum.Scale(1.0 / float64(len(c)))
}

// Transformed returns a new cloud with T applied to every point.
func (c Cloud) Transformed(T Transform) Cloud {
	out := make(Cloud, len(c))
	for i, p := range c {
		out[i] = T.Apply(p)
	}
	return out
}
