package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeSpeeds run-length encodes a row-major speed grid into
// base64(varint pairs). The pairs are (speed, run_len) repeated; runs cross
// row boundaries.
func EncodeSpeeds(speeds [][]int) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	flush := func(v, run int) {
		n := binary.PutUvarint(tmp[:], uint64(v))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
	}

	cur, run := 0, 0
	for _, row := range speeds {
		for _, v := range row {
			if run > 0 && v == cur {
				run++
				continue
			}
			if run > 0 {
				flush(cur, run)
			}
			cur, run = v, 1
		}
	}
	if run > 0 {
		flush(cur, run)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeSpeeds reverses EncodeSpeeds for a cols x rows grid.
func DecodeSpeeds(b64 string, cols, rows int) ([][]int, error) {
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("bad grid size %dx%d", cols, rows)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	flat := make([]int, 0, cols*rows)
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if run == 0 || uint64(len(flat))+run > uint64(cols*rows) {
			return nil, fmt.Errorf("run of %d overflows %dx%d grid", run, cols, rows)
		}
		for k := uint64(0); k < run; k++ {
			flat = append(flat, int(v))
		}
	}
	if len(flat) != cols*rows {
		return nil, fmt.Errorf("decoded %d tiles, want %d", len(flat), cols*rows)
	}
	out := make([][]int, rows)
	for r := range out {
		out[r] = flat[r*cols : (r+1)*cols : (r+1)*cols]
	}
	return out, nil
}
