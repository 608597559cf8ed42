package sql

// TrackedReader wraps a *Rows result set, holding the connection lease
// (if any) acquired to produce it until the caller disposes the reader
// (spec.md §4.5: "Readers hold a lease on the connection lock ... until
// disposed; callers must dispose them before the surrounding scope
// exits.").
type TrackedReader struct {
	rows    *Rows
	release func()
	closed  bool
}

// Next advances to the next row. A false return does not itself release
// the connection lease; callers must still call Close for the
// cancellation/exception paths spec.md §4.5 calls out.
func (r *TrackedReader) Next() bool { return r.rows.Next() }

// Scan copies the current row's columns into dest.
func (r *TrackedReader) Scan(dest ...any) error { return r.rows.Scan(dest...) }

// Err returns the error, if any, encountered during iteration.
func (r *TrackedReader) Err() error { return r.rows.Err() }

// Columns returns the column names of the result set.
func (r *TrackedReader) Columns() ([]string, error) { return r.rows.Columns() }

// Close closes the underlying result set and releases the connection
// lease exactly once; safe to call multiple times.
func (r *TrackedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rows.Close()
	if r.release != nil {
		r.release()
	}
	return err
}
