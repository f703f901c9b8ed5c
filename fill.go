package geoloc

import "math"

// FillStats reports what FillGaps changed
type FillStats struct {
	// Filled is the number of samples that were invalid and now hold a value
	Filled int
	// Rows is the number of rows in which at least one sample was filled
	Rows int
}

// FillGaps replaces invalid samples of g, row by row. Interior runs of invalid
// samples are linearly interpolated between the valid samples bounding them;
// runs touching the first or last column are extrapolated with the gradient of
// the two nearest valid samples (or set to the single valid sample of the
// row). Longitudes are unwrapped along the row before filling and wrapped
// back to [-180,180] after, and extrapolated latitudes are clamped to
// [-90,90]. Rows without any valid sample are left untouched.
func FillGaps(g *SampleGrid) FillStats {
	st := FillStats{}
	w := g.Width
	valid := make([]int, 0, w)
	ux := make([]float64, w)
	for j := 0; j < g.Height; j++ {
		valid = valid[:0]
		for i := 0; i < w; i++ {
			if g.Valid(i, j) {
				valid = append(valid, i)
			}
		}
		if len(valid) == 0 || len(valid) == w {
			continue
		}
		row := j * w
		xs, ys := g.X[row:row+w], g.Y[row:row+w]
		prev := -1
		for _, i := range valid {
			ux[i] = xs[i]
			if g.Geographic && prev >= 0 {
				ux[i] = ux[prev] + math.Remainder(xs[i]-ux[prev], 360)
			}
			prev = i
		}
		filled := 0
		set := func(i int, x, y float64, extrapolated bool) {
			if g.Geographic {
				x = wrapLon(x)
				if extrapolated {
					y = math.Max(-90, math.Min(90, y))
				}
			}
			xs[i], ys[i] = x, y
			filled++
		}
		// interior runs
		for k := 1; k < len(valid); k++ {
			a, b := valid[k-1], valid[k]
			for i := a + 1; i < b; i++ {
				t := float64(i-a) / float64(b-a)
				set(i, ux[a]+t*(ux[b]-ux[a]), ys[a]+t*(ys[b]-ys[a]), false)
			}
		}
		first, last := valid[0], valid[len(valid)-1]
		if len(valid) == 1 {
			for i := 0; i < w; i++ {
				if i != first {
					set(i, ux[first], ys[first], true)
				}
			}
		} else {
			s := valid[1]
			gx := (ux[s] - ux[first]) / float64(s-first)
			gy := (ys[s] - ys[first]) / float64(s-first)
			for i := 0; i < first; i++ {
				d := float64(i - first)
				set(i, ux[first]+d*gx, ys[first]+d*gy, true)
			}
			p := valid[len(valid)-2]
			gx = (ux[last] - ux[p]) / float64(last-p)
			gy = (ys[last] - ys[p]) / float64(last-p)
			for i := last + 1; i < w; i++ {
				d := float64(i - last)
				set(i, ux[last]+d*gx, ys[last]+d*gy, true)
			}
		}
		st.Filled += filled
		st.Rows++
	}
	return st
}
