// Package migrations ships the failure record schema for every supported dialect and
// applies it with golang-migrate.
//
// Migrations are embedded at build time, so neither the dispatcher nor the migrator
// needs migration files on disk.
package migrations

import (
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

const (
	// DialectPostgres selects the PostgreSQL migration set.
	DialectPostgres = "postgres"
	// DialectSQLite selects the SQLite migration set.
	DialectSQLite = "sqlite"
)

// ErrUnknownDialect is returned for a dialect without an embedded migration set.
var ErrUnknownDialect = errors.New("unknown migration dialect")

// EmbeddedMigration validates and exposes the migration files of one dialect.
// Validation covers filename format, up/down pairing, sequence gaps and checksum integrity.
type EmbeddedMigration struct {
	dialect   string
	fs        fs.FS
	checksums map[string]string // filename -> checksum
}

// MigrationInfo contains parsed information about a migration file.
type MigrationInfo struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

//go:embed postgres/*.sql sqlite/*.sql
var embeddedMigrations embed.FS

// 001_migration_name.up.sql or 001_migration_name.down.sql
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// NewEmbeddedMigration returns the migration set for dialect.
// Pass a nil filesystem to use the embedded files; tests inject their own.
func NewEmbeddedMigration(dialect string, filesystem fs.FS) (*EmbeddedMigration, error) {
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}

	if filesystem == nil {
		sub, err := fs.Sub(embeddedMigrations, dialect)
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded %s migrations: %w", dialect, err)
		}

		filesystem = sub
	}

	return &EmbeddedMigration{
		dialect:   dialect,
		fs:        filesystem,
		checksums: make(map[string]string),
	}, nil
}

// Dialect returns the dialect this migration set belongs to.
func (e *EmbeddedMigration) Dialect() string {
	return e.dialect
}

// FS returns the file system holding the migration files.
func (e *EmbeddedMigration) FS() fs.FS {
	return e.fs
}

// List returns the migration files that conform to the naming standard, sorted.
func (e *EmbeddedMigration) List() ([]string, error) {
	entries, err := fs.ReadDir(e.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && migrationFilenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks pairing, sequence and checksum integrity of the migration set.
// Checksums recorded by a previous call must still match.
func (e *EmbeddedMigration) Validate() error {
	files, err := e.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no %s migration files found", e.dialect)
	}

	infos := make([]*MigrationInfo, 0, len(files))

	for _, file := range files {
		info, err := parseMigrationFilename(file)
		if err != nil {
			return fmt.Errorf("filename validation failed for %s: %w", file, err)
		}

		infos = append(infos, info)
	}

	if err := validatePairing(infos); err != nil {
		return err
	}

	if err := validateSequence(infos); err != nil {
		return err
	}

	for _, file := range files {
		content, err := fs.ReadFile(e.fs, file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		sum := checksum(content)
		if stored, ok := e.checksums[file]; ok && stored != sum {
			return fmt.Errorf("checksum mismatch for %s: file has been modified", file)
		}

		e.checksums[file] = sum
	}

	return nil
}

// MaxVersion returns the highest migration sequence in the set, or 0.
func (e *EmbeddedMigration) MaxVersion() int {
	files, err := e.List()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, file := range files {
		if info, err := parseMigrationFilename(file); err == nil && info.Sequence > maxSequence {
			maxSequence = info.Sequence
		}
	}

	return maxSequence
}

func parseMigrationFilename(filename string) (*MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &MigrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures every up migration has a down migration and vice versa.
func validatePairing(infos []*MigrationInfo) error {
	directions := make(map[string]map[string]bool)

	for _, info := range infos {
		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][info.Direction] = true
	}

	keys := make([]string, 0, len(directions))
	for key := range directions {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		if !directions[key]["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !directions[key]["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures the sequence starts at 001 and has no gaps.
func validateSequence(infos []*MigrationInfo) error {
	seen := make(map[int]bool)

	var sequences []int

	for _, info := range infos {
		if !seen[info.Sequence] {
			seen[info.Sequence] = true
			sequences = append(sequences, info.Sequence)
		}
	}

	if len(sequences) == 0 {
		return nil
	}

	sort.Ints(sequences)

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if expected := sequences[i-1] + 1; sequences[i] != expected {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d", expected, sequences[i])
		}
	}

	return nil
}

func checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
