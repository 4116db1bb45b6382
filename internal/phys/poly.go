package phys

import "math"

// QuadBezier evaluates a quadratic Bezier curve at t in [0,1].
func QuadBezier(p0, ctrl, p1 Vec2, t float64) Vec2 {
	u := 1 - t
	return Vec2{
		X: u*u*p0.X + 2*u*t*ctrl.X + t*t*p1.X,
		Y: u*u*p0.Y + 2*u*t*ctrl.Y + t*t*p1.Y,
	}
}

// PointInPolygon tests containment with the even-odd ray casting rule.
// The polygon may be open or closed (first point repeated at the end).
func PointInPolygon(p Vec2, poly []Vec2) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		a := poly[i]
		b := poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xCross := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// BoundingRadius returns the distance from origin to the farthest vertex.
func BoundingRadius(poly []Vec2) float64 {
	max := 0.0
	for _, p := range poly {
		if l := p.LengthSq(); l > max {
			max = l
		}
	}
	return math.Sqrt(max)
}

func projectPolygon(axis Vec2, poly []Vec2) (min, max float64) {
	min = axis.Dot(poly[0])
	max = min
	for _, p := range poly[1:] {
		d := axis.Dot(p)
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}

// SATIntersect runs a separating-axis test between two convex polygons in
// world coordinates. On overlap it reports the minimum translation vector
// that pushes a out of b.
func SATIntersect(a, b []Vec2) (hit bool, mtv Vec2) {
	minOverlap := math.MaxFloat64
	var minAxis Vec2

	for _, poly := range [2][]Vec2{a, b} {
		n := len(poly)
		for i := 0; i < n; i++ {
			edge := poly[(i+1)%n].Sub(poly[i])
			if edge.LengthSq() == 0 {
				continue
			}
			axis := edge.Perp().Normalized()

			minA, maxA := projectPolygon(axis, a)
			minB, maxB := projectPolygon(axis, b)
			if maxA < minB || maxB < minA {
				return false, Vec2{}
			}
			overlap := math.Min(maxA, maxB) - math.Max(minA, minB)
			if overlap < minOverlap {
				minOverlap = overlap
				minAxis = axis
			}
		}
	}

	// Orient the MTV so it pushes a away from b.
	centerA := polygonCenter(a)
	centerB := polygonCenter(b)
	if minAxis.Dot(centerA.Sub(centerB)) < 0 {
		minAxis = minAxis.Scale(-1)
	}
	return true, minAxis.Scale(minOverlap)
}

func polygonCenter(poly []Vec2) Vec2 {
	var c Vec2
	for _, p := range poly {
		c = c.Add(p)
	}
	return c.Scale(1 / float64(len(poly)))
}

// SegmentIntersectsPolygon tests whether the segment p0->p1 crosses any
// polygon edge or has an endpoint inside the polygon.
func SegmentIntersectsPolygon(p0, p1 Vec2, poly []Vec2) bool {
	if PointInPolygon(p0, poly) || PointInPolygon(p1, poly) {
		return true
	}
	n := len(poly)
	for i := 0; i < n; i++ {
		if segmentsIntersect(p0, p1, poly[i], poly[(i+1)%n]) {
			return true
		}
	}
	return false
}

func segmentsIntersect(a0, a1, b0, b1 Vec2) bool {
	d1 := a1.Sub(a0)
	d2 := b1.Sub(b0)
	denom := d1.Cross(d2)
	if denom == 0 {
		return false // parallel; overlap handled by the containment test
	}
	diff := b0.Sub(a0)
	t := diff.Cross(d2) / denom
	u := diff.Cross(d1) / denom
	return t >= 0 && t <= 1 && u >= 0 && u <= 1
}
