// Package fcs reads and writes Flow Cytometry Standard files (2.0, 3.0 and
// 3.1, list mode) and the tables derived from them.
package fcs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
	"gonum.org/v1/gonum/mat"
)

const (
	headerSize   = 58
	headerFields = 6
)

var supportedVersions = map[string]bool{"FCS2.0": true, "FCS3.0": true, "FCS3.1": true}

type Channel struct {
	// Number is the 1 based parameter number n of the $Pn keywords.
	Number int
	// PnN is the short channel name, PnS the marker, empty when absent.
	PnN   string
	PnS   string
	Bits  int
	Range float64
}

// FlowData is a parsed FCS file. Text keys are upper case.
type FlowData struct {
	Version  string
	Text     map[string]string
	Channels []Channel
	Events   *mat.Dense
}

func (fd *FlowData) EventCount() int {
	if fd.Events == nil {
		return 0
	}
	r, _ := fd.Events.Dims()
	return r
}

// Frame returns the events as a frame with channel (PnN) columns.
func (fd *FlowData) Frame() (*model.Frame, error) {
	columns := make([]string, len(fd.Channels))
	for i, c := range fd.Channels {
		columns[i] = c.PnN
	}
	if fd.Events == nil {
		return model.NewFrame(columns, nil)
	}
	return model.NewFrameFromDense(columns, mat.DenseCopyOf(fd.Events))
}

func ReadFile(path string) (*FlowData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fd, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fd, nil
}

func Read(r io.Reader) (*FlowData, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a complete FCS file held in memory.
func Parse(data []byte) (*FlowData, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: file too short for an FCS header", common.ErrorInvalidFormat)
	}
	version := string(data[:6])
	if !supportedVersions[version] {
		return nil, fmt.Errorf("%w: unsupported version %q", common.ErrorInvalidFormat, version)
	}

	var offsets [headerFields]int
	for i := range offsets {
		field := strings.TrimSpace(string(data[10+8*i : 18+8*i]))
		if field == "" {
			continue
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("%w: header offset %q", common.ErrorInvalidFormat, field)
		}
		offsets[i] = v
	}

	text, err := segment(data, offsets[0], offsets[1])
	if err != nil {
		return nil, err
	}
	keywords, err := parseText(text)
	if err != nil {
		return nil, err
	}

	// supplemental text of 3.x files
	if begin, end := keywordInt(keywords, "$BEGINSTEXT"), keywordInt(keywords, "$ENDSTEXT"); end > begin {
		stext, err := segment(data, begin, end)
		if err != nil {
			return nil, err
		}
		extra, err := parseText(stext)
		if err != nil {
			return nil, err
		}
		for k, v := range extra {
			if _, ok := keywords[k]; !ok {
				keywords[k] = v
			}
		}
	}

	fd := &FlowData{Version: version, Text: keywords}
	if err := fd.parseChannels(); err != nil {
		return nil, err
	}

	begin, end := offsets[2], offsets[3]
	if begin == 0 && end == 0 {
		begin, end = keywordInt(keywords, "$BEGINDATA"), keywordInt(keywords, "$ENDDATA")
	}
	if err := fd.parseData(data, begin, end); err != nil {
		return nil, err
	}
	return fd, nil
}

func segment(data []byte, begin, end int) ([]byte, error) {
	if begin < 0 || end < begin || end >= len(data) {
		return nil, fmt.Errorf("%w: segment [%d, %d] outside file of %d bytes",
			common.ErrorInvalidFormat, begin, end, len(data))
	}
	return data[begin : end+1], nil
}

// parseText splits a TEXT segment on its delimiter, the first byte. A doubled
// delimiter inside a keyword or value stands for the delimiter itself.
func parseText(text []byte) (map[string]string, error) {
	if len(text) < 2 {
		return nil, fmt.Errorf("%w: empty TEXT segment", common.ErrorInvalidFormat)
	}
	delim := text[0]
	fields := []string{}
	var cur bytes.Buffer
	for i := 1; i < len(text); i++ {
		if text[i] != delim {
			cur.WriteByte(text[i])
			continue
		}
		if i+1 < len(text) && text[i+1] == delim {
			cur.WriteByte(delim)
			i++
			continue
		}
		fields = append(fields, cur.String())
		cur.Reset()
	}
	// some writers omit the trailing delimiter
	if s := strings.TrimRight(cur.String(), "\x00 \r\n"); s != "" {
		fields = append(fields, s)
	}
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("%w: TEXT segment has an odd number of fields", common.ErrorInvalidFormat)
	}
	res := make(map[string]string, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		res[strings.ToUpper(strings.TrimSpace(fields[i]))] = fields[i+1]
	}
	return res, nil
}

func keywordInt(keywords map[string]string, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(keywords[key]))
	if err != nil {
		return 0
	}
	return v
}

func (fd *FlowData) required(key string) (string, error) {
	v, ok := fd.Text[key]
	if !ok {
		return "", fmt.Errorf("%w: missing keyword %s", common.ErrorInvalidFormat, key)
	}
	return strings.TrimSpace(v), nil
}

func (fd *FlowData) requiredInt(key string) (int, error) {
	v, err := fd.required(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: keyword %s=%q is not an integer", common.ErrorInvalidFormat, key, v)
	}
	return n, nil
}

func (fd *FlowData) parseChannels() error {
	par, err := fd.requiredInt("$PAR")
	if err != nil {
		return err
	}
	// every parameter needs its own $PnN keyword
	if par < 0 || par > len(fd.Text) {
		return fmt.Errorf("%w: $PAR=%d", common.ErrorInvalidFormat, par)
	}
	fd.Channels = make([]Channel, par)
	for n := 1; n <= par; n++ {
		c := Channel{Number: n, PnS: strings.TrimSpace(fd.Text[fmt.Sprintf("$P%dS", n)])}
		if c.PnN, err = fd.required(fmt.Sprintf("$P%dN", n)); err != nil {
			return err
		}
		bits, err := fd.required(fmt.Sprintf("$P%dB", n))
		if err != nil {
			return err
		}
		// "*" marks ASCII free format, left at 0
		if bits != "*" {
			if c.Bits, err = strconv.Atoi(bits); err != nil {
				return fmt.Errorf("%w: $P%dB=%q", common.ErrorInvalidFormat, n, bits)
			}
		}
		if r := strings.TrimSpace(fd.Text[fmt.Sprintf("$P%dR", n)]); r != "" {
			if c.Range, err = strconv.ParseFloat(r, 64); err != nil {
				return fmt.Errorf("%w: $P%dR=%q", common.ErrorInvalidFormat, n, r)
			}
		}
		fd.Channels[n-1] = c
	}
	return nil
}

func (fd *FlowData) byteOrder() (binary.ByteOrder, error) {
	order, err := fd.required("$BYTEORD")
	if err != nil {
		return nil, err
	}
	switch strings.ReplaceAll(order, " ", "") {
	case "1,2,3,4", "1,2", "1,2,3,4,5,6,7,8":
		return binary.LittleEndian, nil
	case "4,3,2,1", "2,1", "8,7,6,5,4,3,2,1":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("%w: unsupported byte order %q", common.ErrorInvalidFormat, order)
}

func (fd *FlowData) parseData(data []byte, begin, end int) error {
	if mode := fd.Text["$MODE"]; mode != "" && strings.TrimSpace(mode) != "L" {
		return fmt.Errorf("%w: only list mode data is supported, got $MODE=%s", common.ErrorInvalidFormat, mode)
	}
	total, err := fd.requiredInt("$TOT")
	if err != nil {
		return err
	}
	if total < 0 {
		return fmt.Errorf("%w: $TOT=%d", common.ErrorInvalidFormat, total)
	}
	if total == 0 || len(fd.Channels) == 0 {
		return nil
	}
	datatype, err := fd.required("$DATATYPE")
	if err != nil {
		return err
	}
	order, err := fd.byteOrder()
	if err != nil {
		return err
	}
	raw, err := segment(data, begin, end)
	if err != nil {
		return err
	}

	widths := make([]int, len(fd.Channels))
	rowBytes := 0
	for i, c := range fd.Channels {
		switch datatype {
		case "F":
			widths[i] = 4
		case "D":
			widths[i] = 8
		case "I":
			if c.Bits%8 != 0 || c.Bits == 0 || c.Bits > 64 {
				return fmt.Errorf("%w: %d bit integers are not supported", common.ErrorInvalidFormat, c.Bits)
			}
			widths[i] = c.Bits / 8
		default:
			return fmt.Errorf("%w: unsupported $DATATYPE %q", common.ErrorInvalidFormat, datatype)
		}
		rowBytes += widths[i]
	}
	if total > len(raw)/rowBytes {
		return fmt.Errorf("%w: DATA segment holds %d bytes, %d events of %d bytes do not fit",
			common.ErrorInvalidFormat, len(raw), total, rowBytes)
	}

	masks := make([]uint64, len(fd.Channels))
	for i, c := range fd.Channels {
		masks[i] = rangeMask(c.Range, c.Bits)
	}

	events := mat.NewDense(total, len(fd.Channels), nil)
	pos := 0
	for e := 0; e < total; e++ {
		row := events.RawRowView(e)
		for i, w := range widths {
			b := raw[pos : pos+w]
			pos += w
			switch datatype {
			case "F":
				row[i] = float64(math.Float32frombits(order.Uint32(b)))
			case "D":
				row[i] = math.Float64frombits(order.Uint64(b))
			default:
				row[i] = float64(readUint(b, order) & masks[i])
			}
		}
	}
	fd.Events = events
	return nil
}

func readUint(b []byte, order binary.ByteOrder) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	}
	var v uint64
	if order == binary.BigEndian {
		for _, x := range b {
			v = v<<8 | uint64(x)
		}
		return v
	}
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// rangeMask keeps the bits needed for values up to r, integer data may carry
// flags above them.
func rangeMask(r float64, bits int) uint64 {
	full := uint64(math.MaxUint64)
	if bits < 64 {
		full = 1<<uint(bits) - 1
	}
	if r <= 1 {
		return full
	}
	need := uint(math.Ceil(math.Log2(r)))
	if need >= 64 {
		return full
	}
	return (1<<need - 1) & full
}

// Keywords returns the TEXT keywords sorted by name.
func (fd *FlowData) Keywords() []string {
	res := make([]string, 0, len(fd.Text))
	for k := range fd.Text {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
