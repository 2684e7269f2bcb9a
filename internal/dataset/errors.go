package dataset

import "fmt"

// DatasetCorruptError reports a dataset that cannot be replayed: a bad header,
// or more malformed rows than the configured skip ratio allows.
type DatasetCorruptError struct {
	Path    string
	Offset  int64 // data row that triggered the failure; 0 for header errors
	Read    int64
	Skipped int64
	Reason  string
}

func (e *DatasetCorruptError) Error() string {
	if e.Offset == 0 {
		return fmt.Sprintf("dataset %s corrupt: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("dataset %s corrupt at row %d: %s (skipped %d of %d rows)",
		e.Path, e.Offset, e.Reason, e.Skipped, e.Read)
}
