package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// migrationFile is one parsed migration filename.
type migrationFile struct {
	Sequence  int
	Name      string
	Direction string
}

// Filenames must look like 001_create_data_series.up.sql. Anything else in
// the directory (READMEs, editor droppings) is ignored by the listing but a
// .sql file with a bad name fails validation outright.
var migrationFilePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// migrationSource inspects a migrations directory before the runner touches
// the database, so schema problems surface as clear errors instead of
// half-applied migrations.
type migrationSource struct {
	dir string
}

func newMigrationSource(dir string) *migrationSource {
	return &migrationSource{dir: dir}
}

// List returns the migration filenames in apply order.
func (s *migrationSource) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		files = append(files, entry.Name())
	}

	sort.Strings(files)
	return files, nil
}

// Validate checks naming, up/down pairing and sequence continuity.
func (s *migrationSource) Validate() error {
	files, err := s.List()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no migration files found in %s", s.dir)
	}

	// directions per sequence key, e.g. "001_create_data_series"
	pairs := make(map[string]map[string]bool)
	sequences := make(map[int]bool)

	for _, file := range files {
		m, err := parseMigrationFile(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", m.Sequence, m.Name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]bool)
		}
		pairs[key][m.Direction] = true
		sequences[m.Sequence] = true
	}

	for key, directions := range pairs {
		if !directions["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}
		if !directions["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	ordered := make([]int, 0, len(sequences))
	for seq := range sequences {
		ordered = append(ordered, seq)
	}
	sort.Ints(ordered)

	if ordered[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, found %03d", ordered[0])
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i] != ordered[i-1]+1 {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d", ordered[i-1]+1, ordered[i])
		}
	}

	return nil
}

func parseMigrationFile(filename string) (*migrationFile, error) {
	matches := migrationFilePattern.FindStringSubmatch(filename)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename %s (expected 001_name.up.sql or 001_name.down.sql)", filename)
	}

	seq, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in %s: %w", filename, err)
	}

	return &migrationFile{
		Sequence:  seq,
		Name:      matches[2],
		Direction: matches[3],
	}, nil
}
