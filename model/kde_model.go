package model

type Clip struct {
	Lower float64
	Upper float64
}

type Density struct {
	X     float64
	Value float64
}

type Cdf struct {
	X     float64
	Value float64
}

type QuantileValue struct {
	Value    float64 `json:"v,omitempty"`
	Quantile float64 `json:"q,omitempty"`
}

// DensityPeaks is the result of fitting a density over a grid and picking its peaks.
// Peaks are indexes into Grid, in ascending order.
type DensityPeaks struct {
	Grid      []float64 `json:"grid"`
	Density   []float64 `json:"density"`
	Peaks     []int     `json:"peaks"`
	BandWidth float64   `json:"bw"`
}

// PeakLocations returns the grid positions of the accepted peaks.
func (d *DensityPeaks) PeakLocations() []float64 {
	if d == nil {
		return nil
	}
	res := make([]float64, len(d.Peaks))
	for i, idx := range d.Peaks {
		res[i] = d.Grid[idx]
	}
	return res
}

// PeakHeights returns the density value at each accepted peak.
func (d *DensityPeaks) PeakHeights() []float64 {
	if d == nil {
		return nil
	}
	res := make([]float64, len(d.Peaks))
	for i, idx := range d.Peaks {
		res[i] = d.Density[idx]
	}
	return res
}
