// Package cli implements the cytotools command-line interface.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"github.com/uyouii/cytometry-algorithms/config"
	"github.com/uyouii/cytometry-algorithms/fcs"
	"github.com/uyouii/cytometry-algorithms/model"
	"github.com/uyouii/cytometry-algorithms/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const appName = "cytotools"

// Log levels exported for use in main.go.
const (
	LogDebug = zapcore.DebugLevel
	LogInfo  = zapcore.InfoLevel
)

// version is set at build time with -ldflags "-X .../internal/cli.version=v1.2.3".
var version = "dev"

// CLI holds shared state for all commands.
type CLI struct {
	Logger *zap.Logger

	level      zap.AtomicLevel
	configPath string
	cfg        *config.Config
}

// New creates a CLI logging to w and installs its logger as the global one.
func New(w io.Writer, level zapcore.Level) *CLI {
	atom := zap.NewAtomicLevelAt(level)
	encoder := zap.NewDevelopmentEncoderConfig()
	encoder.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoder), zapcore.AddSync(w), atom)
	logger := zap.New(core)
	utils.SetLogger(logger)
	return &CLI{Logger: logger, level: atom, cfg: config.Default()}
}

func (c *CLI) SetLogLevel(level zapcore.Level) {
	c.level.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Cytotools analyses flow and mass cytometry event data",
		Long:         `Cytotools reads FCS and CSV event tables and runs density, peak finding and sampling utilities on them.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.configPath == "" {
				return nil
			}
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.Logger.Debug("loaded config", zap.String("path", c.configPath))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "TOML config file")

	root.AddCommand(c.peaksCommand())
	root.AddCommand(c.channelsCommand())
	root.AddCommand(c.sampleCommand())
	return root
}

// loadFrame reads an event table, FCS markers are returned alongside.
func loadFrame(ctx context.Context, path string) (*model.Frame, map[string]string, error) {
	if fcs.Format(path) != fcs.ExtFCS {
		frame, err := fcs.ReadFromDisk(path)
		return frame, nil, err
	}
	fd, err := fcs.ReadFlowData(path)
	if err != nil {
		return nil, nil, err
	}
	frame, err := fd.Frame()
	if err != nil {
		return nil, nil, err
	}
	utils.GetLogger(ctx).Debug("read fcs file", zap.String("path", path), zap.String("version", fd.Version),
		zap.Int("events", fd.EventCount()), zap.Int("channels", len(fd.Channels)))
	return frame, fcs.Markers(fd), nil
}
