package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshot writes a consistent copy of the replica using VACUUM INTO,
// which works while other connections keep reading and writing, and
// returns its contents. The temp file is removed before returning.
func Snapshot(ctx context.Context, db *sql.DB) ([]byte, error) {
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("bywater-snapshot-%d.db", os.Getpid()))
	os.Remove(tmp) // VACUUM INTO refuses to overwrite
	defer os.Remove(tmp)

	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}

	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}
