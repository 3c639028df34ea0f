// Package config loads the TOML settings of the cytotools command.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/kde"
	"github.com/uyouii/cytometry-algorithms/neighbours"
	"github.com/uyouii/cytometry-algorithms/sampling"
	"golang.org/x/exp/rand"
)

type Config struct {
	KDE       KDEConfig       `toml:"kde"`
	Peaks     PeaksConfig     `toml:"peaks"`
	Sampling  SamplingConfig  `toml:"sampling"`
	Transform TransformConfig `toml:"transform"`
}

type KDEConfig struct {
	Kernel          string  `toml:"kernel"`
	BandWidth       string  `toml:"bandwidth"`
	BandWidthAdjust float64 `toml:"bandwidth_adjust"`
	Cut             float64 `toml:"cut"`
	GridSize        int     `toml:"grid_size"`
}

type PeaksConfig struct {
	MinHeight   float64 `toml:"min_height"`
	MinDistance int     `toml:"min_distance"`
}

type SamplingConfig struct {
	Method string `toml:"method"`
	// Size is a row count when at least 1, otherwise a fraction of the rows.
	Size           float64 `toml:"size"`
	Seed           uint64  `toml:"seed"`
	FaithfulRadius float64 `toml:"faithful_radius"`
	Alpha          float64 `toml:"alpha"`
	Metric         string  `toml:"metric"`
	OutlierDensity float64 `toml:"outlier_density"`
	TargetDensity  float64 `toml:"target_density"`
}

type TransformConfig struct {
	Method string             `toml:"method"`
	Params map[string]float64 `toml:"params"`
}

func Default() *Config {
	density := sampling.DefaultDensityOptions()
	return &Config{
		KDE: KDEConfig{
			Kernel:          kde.KernelGaussian,
			BandWidth:       kde.BandWidthSilverman,
			BandWidthAdjust: 1,
			Cut:             kde.DefaultCut,
			GridSize:        kde.DefaultGridSize,
		},
		Peaks: PeaksConfig{
			MinHeight:   kde.DefaultMinHeight,
			MinDistance: kde.DefaultMinDistance,
		},
		Sampling: SamplingConfig{
			Method:         sampling.MethodUniform,
			Size:           0.1,
			Seed:           42,
			FaithfulRadius: sampling.DefaultFaithfulRadius,
			Alpha:          density.Alpha,
			Metric:         neighbours.MetricManhattan,
			OutlierDensity: density.OutlierDensity,
			TargetDensity:  density.TargetDensity,
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInvalidFormat, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown config keys %s", common.ErrorInvalidValue, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (c *Config) PeakOptions() (kde.PeakOptions, error) {
	opts := kde.DefaultPeakOptions()
	kernel, err := kde.NewKernel(c.KDE.Kernel)
	if err != nil {
		return opts, err
	}
	bw, err := kde.NewBandWidth(c.KDE.BandWidth, kernel)
	if err != nil {
		return opts, err
	}
	opts.Kernel = kernel
	opts.BandWidth = bw
	opts.BandWidthAdjust = c.KDE.BandWidthAdjust
	opts.Cut = c.KDE.Cut
	opts.GridSize = c.KDE.GridSize
	opts.MinHeight = c.Peaks.MinHeight
	opts.MinDistance = c.Peaks.MinDistance
	return opts, nil
}

func (c *Config) SampleSize() sampling.SampleSize {
	if c.Sampling.Size >= 1 {
		return sampling.Count(int(c.Sampling.Size))
	}
	return sampling.Fraction(c.Sampling.Size)
}

func (c *Config) SampleOptions() sampling.SampleOptions {
	opts := sampling.DefaultSampleOptions()
	opts.Src = rand.NewSource(c.Sampling.Seed)
	opts.FaithfulRadius = c.Sampling.FaithfulRadius
	opts.Density.Alpha = c.Sampling.Alpha
	opts.Density.Metric = c.Sampling.Metric
	opts.Density.OutlierDensity = c.Sampling.OutlierDensity
	opts.Density.TargetDensity = c.Sampling.TargetDensity
	return opts
}
