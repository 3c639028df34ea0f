package common

import "errors"

var (
	ErrorInvalidValue      = errors.New("invalid value")
	ErrorDegenerateSample  = errors.New("degenerate sample")
	ErrorInvalidMethod     = errors.New("invalid method")
	ErrorNotFitted         = errors.New("not fitted")
	ErrorGeometry          = errors.New("geometry error")
	ErrorInvalidFormat     = errors.New("invalid file format")
	ErrorDimensionMismatch = errors.New("dimension mismatch")
	ErrorInternal          = errors.New("internal error")
)
