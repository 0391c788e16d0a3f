package rekordbox

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-sqlite3"
)

// contentTable must exist and hold rows for a direct connection to count as valid.
const contentTable = "djmdContent"

// plainHeader starts every unencrypted SQLite file.
var plainHeader = []byte("SQLite format 3\x00")

// errNoCipher means the linked SQLite cannot decrypt. See the package docs for the SQLCipher build.
var errNoCipher = errors.New("sqlite driver is not cipher-aware; rebuild with -tags libsqlite3 against SQLCipher")

// keyedConnector opens connections to one file, applying the raw key before anything else runs.
//
// Cipher support comes from linking the driver against SQLCipher. Stock SQLite ignores the key pragma.
type keyedConnector struct {
	dsn    string
	driver *sqlite3.SQLiteDriver
}

func newKeyedConnector(dsn, key string) *keyedConnector {
	pragma := fmt.Sprintf("PRAGMA key = \"x'%s'\"", key)
	return &keyedConnector{
		dsn: dsn,
		driver: &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if key == "" {
					return nil
				}
				_, err := conn.Exec(pragma, nil)
				return err
			},
		},
	}
}

func (c *keyedConnector) Connect(ctx context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c *keyedConnector) Driver() driver.Driver {
	return c.driver
}

// openDirect copies the source aside and opens the copy with the key.
func (a *Adapter) openDirect(ctx context.Context, tempDir string) error {
	tempPath, err := copyToTemp(a.src.Path, tempDir)
	if err != nil {
		return err
	}
	a.tempPath = tempPath
	a.logger.Debug("created temporary copy", "temp", tempPath)

	plain, err := isPlain(tempPath)
	if err != nil {
		return err
	}

	key := a.src.Key
	if plain {
		key = ""
		a.logger.Debug("source is not encrypted, opening without key")
	}

	a.db = sql.OpenDB(newKeyedConnector("file:"+tempPath+"?mode=ro", key))
	a.db.SetMaxOpenConns(1)

	if !plain {
		if err := requireCipher(ctx, a.db); err != nil {
			return err
		}
	}
	return validateContent(ctx, a.db, a.logger.Info)
}

// isPlain reports whether the file at path carries the unencrypted SQLite header.
func isPlain(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open temporary copy: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(plainHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read header: %w", err)
	}
	return bytes.Equal(header, plainHeader), nil
}

// cipherVersion returns the SQLCipher version of the linked engine, or "" when it has none.
func cipherVersion(ctx context.Context, db *sql.DB) (string, error) {
	var version string
	err := db.QueryRowContext(ctx, "PRAGMA cipher_version").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("failed to query cipher version: %w", err)
	}
	return version, nil
}

// requireCipher fails with [errNoCipher] unless the engine behind db can decrypt.
func requireCipher(ctx context.Context, db *sql.DB) error {
	version, err := cipherVersion(ctx, db)
	if err != nil {
		return err
	}
	if version == "" {
		return errNoCipher
	}
	return nil
}

// validateContent lists tables and requires a non-empty content table.
func validateContent(ctx context.Context, db *sql.DB, logf func(msg any, kv ...any)) error {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return fmt.Errorf("failed to list tables (wrong key?): %w", err)
	}

	var tables []string
	found := false
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
		found = found || name == contentTable
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	if len(tables) == 0 {
		return fmt.Errorf("no tables found")
	}
	if !found {
		return fmt.Errorf("table %s not found among %d tables", contentTable, len(tables))
	}

	n, err := countContent(ctx, db)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("table %s is empty", contentTable)
	}

	logf("validated external database", "tables", len(tables), "tracks", n)
	return nil
}

func countContent(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+contentTable).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", contentTable, err)
	}
	return n, nil
}

// copyToTemp copies src into a new file under dir (or the OS temp dir). The source is only read.
func copyToTemp(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, "crate-rekordbox-*.db")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary copy: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("failed to copy source: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("failed to finish temporary copy: %w", err)
	}
	return out.Name(), nil
}

// removeCopy deletes the temporary copy and any journal files SQLite left beside it.
func removeCopy(path string) error {
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		os.Remove(path + suffix)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temporary copy: %w", err)
	}
	return nil
}
