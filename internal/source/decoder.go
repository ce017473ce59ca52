package source

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/withObsrvr/mmu-to-hats/internal/record"
)

// maxLine bounds one JSON record; image catalogs carry large arrays.
const maxLine = 256 << 20

// Decoder handles zstd decompression and JSON-lines parsing.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a new record decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// Decode parses a JSON-lines payload, decompressing it first when
// compressed. Blank lines are skipped.
func (d *Decoder) Decode(data []byte, compressed bool) ([]record.Record, error) {
	if compressed {
		raw, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		data = raw
	}

	var out []record.Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		rec, err := record.DecodeJSON(b)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return out, nil
}
