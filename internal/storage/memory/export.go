package memory

import (
	"fmt"

	"github.com/tracksynth/tracksynth/internal/dataset"
)

// Export writes the retained records as a dataset file that the replay
// command can read back.
func (b *Backend) Export(path string, compress bool) error {
	b.mu.RLock()
	records := make([]map[string]any, len(b.records))
	copy(records, b.records)
	b.mu.RUnlock()

	if err := dataset.Write(path, records, compress); err != nil {
		return fmt.Errorf("export %d records: %w", len(records), err)
	}
	return nil
}
