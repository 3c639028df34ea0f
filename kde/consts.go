package kde

const (
	DefaultGridSize    = 1024
	DefaultCut         = 3.0
	DefaultMinHeight   = 0.1
	DefaultMinDistance = 1

	// normalized IQR of a standard normal
	iqrNormalize = 1.349

	// a unit-variance gaussian is below 1e-18 past nine deviations
	gaussianTail = 9.0

	cdfIntegrationPoints = 50
)

const (
	KernelGaussian     = "gaussian"
	KernelEpanechnikov = "epa"
	KernelTriangular   = "triangular"
	KernelBiweight     = "biweight"
	KernelTopHat       = "box"

	BandWidthSilverman       = "silverman"
	BandWidthScott           = "scott"
	BandWidthNormalReference = "normal_reference"
)
