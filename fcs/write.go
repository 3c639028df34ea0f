package fcs

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/uyouii/cytometry-algorithms/common"
	"github.com/uyouii/cytometry-algorithms/model"
)

const (
	writeVersion   = "FCS3.1"
	textDelimiter  = '/'
	maxHeaderValue = 99999999
)

func escape(s string) string {
	d := string(textDelimiter)
	return strings.ReplaceAll(s, d, d+d)
}

func buildText(keywords [][2]string) []byte {
	var sb strings.Builder
	sb.WriteByte(textDelimiter)
	for _, kv := range keywords {
		sb.WriteString(escape(kv[0]))
		sb.WriteByte(textDelimiter)
		sb.WriteString(escape(kv[1]))
		sb.WriteByte(textDelimiter)
	}
	return []byte(sb.String())
}

// Write stores frame as an FCS 3.1 file of little endian 32 bit floats.
// markers maps channel names to the $PnS marker; empty markers are left out.
func Write(w io.Writer, frame *model.Frame, markers map[string]string) error {
	rows, cols := frame.Rows(), frame.Cols()
	if cols == 0 {
		return fmt.Errorf("%w: frame has no columns", common.ErrorInvalidValue)
	}

	keywords := [][2]string{
		{"$BYTEORD", "1,2,3,4"},
		{"$DATATYPE", "F"},
		{"$MODE", "L"},
		{"$NEXTDATA", "0"},
		{"$PAR", strconv.Itoa(cols)},
		{"$TOT", strconv.Itoa(rows)},
		{"$BEGINANALYSIS", "0"},
		{"$ENDANALYSIS", "0"},
		{"$BEGINSTEXT", "0"},
		{"$ENDSTEXT", "0"},
	}
	for j, name := range frame.Columns {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: column %d has no name", common.ErrorInvalidValue, j)
		}
		n := j + 1
		keywords = append(keywords,
			[2]string{fmt.Sprintf("$P%dN", n), name},
			[2]string{fmt.Sprintf("$P%dB", n), "32"},
			[2]string{fmt.Sprintf("$P%dE", n), "0,0"},
			[2]string{fmt.Sprintf("$P%dR", n), strconv.Itoa(columnRange(frame, j))},
		)
		if m := strings.TrimSpace(markers[name]); m != "" {
			keywords = append(keywords, [2]string{fmt.Sprintf("$P%dS", n), m})
		}
	}

	// data offsets are part of the text, iterate until their width settles
	dataLen := rows * cols * 4
	begin, end := 0, 0
	var text []byte
	for {
		text = buildText(append(keywords, [2]string{"$BEGINDATA", strconv.Itoa(begin)},
			[2]string{"$ENDDATA", strconv.Itoa(end)}))
		nb := headerSize + len(text)
		ne := nb + dataLen - 1
		if dataLen == 0 {
			ne = nb
		}
		if nb == begin && ne == end {
			break
		}
		begin, end = nb, ne
	}

	headerBegin, headerEnd := begin, end
	if end > maxHeaderValue {
		headerBegin, headerEnd = 0, 0
	}
	bw := bufio.NewWriter(w)
	header := fmt.Sprintf("%s    %8d%8d%8d%8d%8d%8d", writeVersion,
		headerSize, headerSize+len(text)-1, headerBegin, headerEnd, 0, 0)
	if _, err := bw.WriteString(header); err != nil {
		return err
	}
	if _, err := bw.Write(text); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for i := 0; i < rows; i++ {
		for _, v := range frame.Data.RawRowView(i) {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func WriteFile(path string, frame *model.Frame, markers map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, frame, markers); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func columnRange(frame *model.Frame, j int) int {
	r := 1.0
	for i := 0; i < frame.Rows(); i++ {
		if v := frame.Data.At(i, j); v > r && !math.IsInf(v, 1) {
			r = v
		}
	}
	return int(math.Ceil(r))
}
