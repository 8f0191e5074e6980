package dataset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crnlab/rxngraph/pkg/reaction"
)

// LoadRawRecords reads a raw reaction-record file: a YAML list of record
// entries in the upstream label-file layout.
func LoadRawRecords(path string) ([]*reaction.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read records: %w", err)
	}
	var records []*reaction.RawRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("dataset: decode records %s: %w", path, err)
	}
	return records, nil
}
