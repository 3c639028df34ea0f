package fcs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
)

const (
	ExtFCS  = ".fcs"
	ExtCSV  = ".csv"
	ExtGzip = ".gz"
	ExtZstd = ".zst"
)

// splitExt returns the table format and compression suffix of path,
// "data.csv.gz" gives ".csv" and ".gz".
func splitExt(path string) (format, compression string) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ExtGzip || ext == ExtZstd {
		compression = ext
		path = strings.TrimSuffix(path, filepath.Ext(path))
		ext = strings.ToLower(filepath.Ext(path))
	}
	return ext, compression
}

func decompress(r io.Reader, compression string) (io.ReadCloser, error) {
	switch compression {
	case ExtGzip:
		return gzip.NewReader(r)
	case ExtZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	}
	return io.NopCloser(r), nil
}

func compress(w io.Writer, compression string) (io.WriteCloser, error) {
	switch compression {
	case ExtGzip:
		return gzip.NewWriter(w), nil
	case ExtZstd:
		return zstd.NewWriter(w)
	}
	return nopWriteCloser{w}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, r.closers[i].Close())
	}
	return err
}

// open returns a reader over the decompressed content of path and its table format.
func open(path string) (io.ReadCloser, string, error) {
	format, compression := splitExt(path)
	if format != ExtFCS && format != ExtCSV {
		return nil, "", fmt.Errorf("%w: %s, expected .fcs or .csv", common.ErrorInvalidFormat, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	r, err := decompress(f, compression)
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return &readCloser{Reader: r, closers: []io.Closer{f, r}}, format, nil
}

// ReadFlowData parses an FCS file, optionally gzip (.gz) or zstd (.zst) compressed.
func ReadFlowData(path string) (*FlowData, error) {
	r, format, err := open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if format != ExtFCS {
		return nil, fmt.Errorf("%w: %s is not an FCS file", common.ErrorInvalidFormat, path)
	}
	fd, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fd, nil
}

// ReadFromDisk loads an .fcs or .csv file, optionally gzip (.gz) or zstd
// (.zst) compressed, as a frame. FCS columns are the channel names.
func ReadFromDisk(path string) (*model.Frame, error) {
	r, format, err := open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var frame *model.Frame
	if format == ExtFCS {
		var fd *FlowData
		if fd, err = Read(r); err == nil {
			frame, err = fd.Frame()
		}
	} else {
		frame, err = ReadCSV(r)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}

// WriteToDisk stores frame in the format and compression named by the
// extension of path. markers only apply to FCS output.
func WriteToDisk(path string, frame *model.Frame, markers map[string]string) (err error) {
	format, compression := splitExt(path)
	if format != ExtFCS && format != ExtCSV {
		return fmt.Errorf("%w: %s, expected .fcs or .csv", common.ErrorInvalidFormat, path)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	w, err := compress(f, compression)
	if err != nil {
		return err
	}
	if format == ExtFCS {
		err = Write(w, frame, markers)
	} else {
		err = WriteCSV(w, frame)
	}
	return errors.Join(err, w.Close())
}

// ReadCSV reads a table with a header row, empty cells become NaN.
func ReadCSV(r io.Reader) (*model.Frame, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv", common.ErrorInvalidFormat)
		}
		return nil, err
	}
	rows := [][]float64{}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrorInvalidFormat, err)
		}
		row := make([]float64, len(record))
		for j, s := range record {
			s = strings.TrimSpace(s)
			if s == "" {
				row[j] = math.NaN()
				continue
			}
			if row[j], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("%w: line %d column %q: %q is not a number",
					common.ErrorInvalidFormat, line, header[j], s)
			}
		}
		rows = append(rows, row)
	}
	return model.NewFrame(header, rows)
}

func WriteCSV(w io.Writer, frame *model.Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(frame.Columns); err != nil {
		return err
	}
	record := make([]string, frame.Cols())
	for i := 0; i < frame.Rows(); i++ {
		for j, v := range frame.Data.RawRowView(i) {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Format is the table format of path, ".fcs" or ".csv", ignoring compression.
func Format(path string) string {
	format, _ := splitExt(path)
	return format
}
