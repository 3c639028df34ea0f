package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/fcs"
	"github.com/uyouii/cytometry-algorithms/model"
	"gonum.org/v1/gonum/stat/distuv"
)

// writeEvents stores two CD3 populations around 2 and 8.
func writeEvents(t *testing.T, name string) string {
	rows := [][]float64{}
	for _, mu := range []float64{2, 8} {
		dist := distuv.Normal{Mu: mu, Sigma: 1}
		for i := 0; i < 500; i++ {
			rows = append(rows, []float64{float64(1000 + i), dist.Quantile((float64(i) + 0.5) / 500)})
		}
	}
	frame, err := model.NewFrame([]string{"FSC-A", "CD3-A"}, rows)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, fcs.WriteToDisk(path, frame, map[string]string{"CD3-A": "CD3"}))
	return path
}

func execute(args ...string) (string, error) {
	c := New(io.Discard, LogInfo)
	root := c.RootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestChannelsCommand(t *testing.T) {
	out, err := execute("channels", writeEvents(t, "events.fcs"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "FSC-A")
	assert.Equal(t, []string{"2", "CD3-A", "CD3"}, strings.Fields(lines[2]))
}

func TestPeaksCommand(t *testing.T) {
	path := writeEvents(t, "events.fcs.gz")

	out, err := execute("peaks", path, "--channel", "CD3-A")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"PEAK", "LOCATION", "DENSITY"}, strings.Fields(lines[0]))

	out, err = execute("peaks", path, "--channel", "CD3-A", "--transform", "asinh")
	require.NoError(t, err)
	assert.Contains(t, out, "PEAK")

	out, err = execute("peaks", path, "--channel", "CD3-A", "--min-height", "2")
	require.NoError(t, err)
	assert.Equal(t, "no peaks above threshold\n", out)

	_, err = execute("peaks", path, "--channel", "CD8-A")
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
	_, err = execute("peaks", path)
	assert.Error(t, err)
}

func TestSampleCommand(t *testing.T) {
	path := writeEvents(t, "events.fcs")
	dir := t.TempDir()

	out := filepath.Join(dir, "sample.csv")
	_, err := execute("sample", path, "--size", "100", "--out", out)
	require.NoError(t, err)
	frame, err := fcs.ReadFromDisk(out)
	require.NoError(t, err)
	assert.Equal(t, 100, frame.Rows())
	assert.Equal(t, []string{"FSC-A", "CD3-A"}, frame.Columns)

	// markers survive an FCS to FCS sample
	out = filepath.Join(dir, "sample.fcs.zst")
	_, err = execute("sample", path, "--size", "0.5", "--method", "density", "--out", out)
	require.NoError(t, err)
	fd, err := fcs.ReadFlowData(out)
	require.NoError(t, err)
	assert.Equal(t, 500, fd.EventCount())
	assert.Equal(t, map[string]string{"CD3-A": "CD3"}, fcs.Markers(fd))

	_, err = execute("sample", path, "--method", "systematic", "--out", out)
	assert.ErrorIs(t, err, common.ErrorInvalidMethod)
}

func TestConfigFlag(t *testing.T) {
	path := writeEvents(t, "events.fcs")
	cfgPath := filepath.Join(t.TempDir(), "cytotools.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[sampling]\nsize = 250\n"), 0o644))

	out := filepath.Join(t.TempDir(), "sample.csv")
	_, err := execute("--config", cfgPath, "sample", path, "--out", out)
	require.NoError(t, err)
	frame, err := fcs.ReadFromDisk(out)
	require.NoError(t, err)
	assert.Equal(t, 250, frame.Rows())

	require.NoError(t, os.WriteFile(cfgPath, []byte("[sampling]\nsizes = 250\n"), 0o644))
	_, err = execute("--config", cfgPath, "sample", path, "--out", out)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
}
