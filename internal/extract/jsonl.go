package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Noob4Eternity/chokidar/internal/schema"
)

// FromJSONL reads canonical customer records, one JSON object per line.
// Each record must satisfy schema.Customer.Validate. A record without a
// synced_at gets now.
func FromJSONL(path string, now func() time.Time) ([]*schema.Customer, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return DecodeJSONL(file, now)
}

// DecodeJSONL is FromJSONL over an arbitrary reader.
func DecodeJSONL(r io.Reader, now func() time.Time) ([]*schema.Customer, error) {
	if now == nil {
		now = time.Now
	}

	var customers []*schema.Customer
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var c schema.Customer
		if err := decoder.Decode(&c); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", lineNum+1, err)
		}
		lineNum++

		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record %d: %w", lineNum, err)
		}
		if c.SyncedAt.IsZero() {
			c.SyncedAt = now().UTC()
		}

		customers = append(customers, &c)
	}

	return customers, nil
}
