package failtriage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kamilpajak/failtriage/pkg/models"
)

// readFailures accepts a JSON array of failure records or one record per line.
func readFailures(r io.Reader) ([]models.FailureRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var records []models.FailureRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse failure array: %w", err)
		}
		return records, nil
	}

	var records []models.FailureRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec models.FailureRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("line %d: failed to parse failure record: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return records, nil
}
