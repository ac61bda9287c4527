package app

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
)

// SplitCSV cuts one CSV document into batch-sized documents, each repeating
// the original header row. It returns the chunks and the total record count,
// header excluded. Rows are split on record boundaries only, so quoted
// fields spanning lines stay intact. Every row must have the header's column
// count.
func SplitCSV(r io.Reader, batchSize int) ([][]byte, int, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, 0, errors.New("csv: missing header row")
	}
	if err != nil {
		return nil, 0, err
	}

	var (
		chunks  [][]byte
		buf     bytes.Buffer
		cw      *csv.Writer
		inChunk int
		total   int
	)

	flush := func() error {
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		chunk := make([]byte, buf.Len())
		copy(chunk, buf.Bytes())
		chunks = append(chunks, chunk)
		buf.Reset()
		inChunk = 0
		return nil
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}

		if inChunk == 0 {
			cw = csv.NewWriter(&buf)
			if err := cw.Write(header); err != nil {
				return nil, 0, err
			}
		}
		if err := cw.Write(row); err != nil {
			return nil, 0, err
		}
		inChunk++
		total++

		if inChunk == batchSize {
			if err := flush(); err != nil {
				return nil, 0, err
			}
		}
	}

	if inChunk > 0 {
		if err := flush(); err != nil {
			return nil, 0, err
		}
	}
	return chunks, total, nil
}
