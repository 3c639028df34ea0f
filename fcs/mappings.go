package fcs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"gonum.org/v1/gonum/mat"
)

var spillKeywords = []string{"$SPILLOVER", "SPILL", "$SPILL"}

type ChannelNames struct {
	PnN string
	PnS string
}

// FCSMappings maps the parameter number of every channel to its names.
func FCSMappings(fd *FlowData) map[int]ChannelNames {
	res := make(map[int]ChannelNames, len(fd.Channels))
	for _, c := range fd.Channels {
		res[c.Number] = ChannelNames{PnN: c.PnN, PnS: c.PnS}
	}
	return res
}

type ChannelMapping struct {
	Channel string `json:"channel"`
	Marker  string `json:"marker"`
}

// ChannelMappings lists channel and marker in parameter order.
func ChannelMappings(fd *FlowData) []ChannelMapping {
	res := make([]ChannelMapping, len(fd.Channels))
	for i, c := range fd.Channels {
		res[i] = ChannelMapping{Channel: c.PnN, Marker: c.PnS}
	}
	return res
}

// Markers maps every channel with a marker to it.
func Markers(fd *FlowData) map[string]string {
	res := map[string]string{}
	for _, c := range fd.Channels {
		if c.PnS != "" {
			res[c.PnN] = c.PnS
		}
	}
	return res
}

// LoadCompensationMatrix reads the spillover matrix stored under $SPILLOVER,
// SPILL or $SPILL: "n,channel_1,...,channel_n,v_11,...,v_nn". The frame has
// one row per source channel and the channels as columns.
func LoadCompensationMatrix(fd *FlowData) (*model.Frame, error) {
	var spill string
	for _, key := range spillKeywords {
		if v, ok := fd.Text[key]; ok && strings.TrimSpace(v) != "" {
			spill = v
			break
		}
	}
	if spill == "" {
		return nil, fmt.Errorf("%w: no spillover matrix, expected one of %v", common.ErrorInvalidFormat, spillKeywords)
	}
	return ParseSpillover(spill)
}

func ParseSpillover(spill string) (*model.Frame, error) {
	fields := strings.Split(strings.TrimSpace(spill), ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 {
		return nil, fmt.Errorf("%w: spillover size %q", common.ErrorInvalidFormat, fields[0])
	}
	if len(fields) != 1+n+n*n {
		return nil, fmt.Errorf("%w: spillover of %d channels needs %d fields, got %d",
			common.ErrorInvalidFormat, n, 1+n+n*n, len(fields))
	}
	values := make([]float64, n*n)
	for i, s := range fields[1+n:] {
		if values[i], err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("%w: spillover value %q", common.ErrorInvalidFormat, s)
		}
	}
	return model.NewFrameFromDense(fields[1:1+n], mat.NewDense(n, n, values))
}

// Compensate removes spillover from the channels of spill:
// compensated = raw * inverse(spill). Other columns are copied unchanged.
func Compensate(frame *model.Frame, spill *model.Frame) (*model.Frame, error) {
	if spill.Rows() != spill.Cols() {
		return nil, fmt.Errorf("%w: spillover matrix is %dx%d", common.ErrorDimensionMismatch, spill.Rows(), spill.Cols())
	}
	raw, err := frame.Select(spill.Columns)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return frame.Clone(), nil
	}
	var inv mat.Dense
	if err := inv.Inverse(spill.Data); err != nil {
		return nil, fmt.Errorf("%w: spillover matrix is not invertible: %v", common.ErrorInvalidValue, err)
	}
	var compensated mat.Dense
	compensated.Mul(raw, &inv)
	return frame.WithColumns(spill.Columns, &compensated)
}
