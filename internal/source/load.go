// Package source loads migration units from SQL files.
//
// A directory may mix two layouts. A single NAME.sql file carries goose-style
// sections:
//
//	-- +goose Up
//	CREATE TABLE users (id INTEGER PRIMARY KEY);
//
//	-- +goose Down
//	DROP TABLE users;
//
// A pair NAME.up.sql and NAME.down.sql holds plain SQL for each direction. A
// NAME.sql file without annotations is treated as up-only.
package source

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/example/migration-orchestrator/internal/migration"
	"golang.org/x/crypto/blake2b"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	sqlSuffix  = ".sql"
)

type pair struct {
	up, down         string
	upPath, downPath string
}

// Load reads every .sql file in dir of fsys and returns one unit per
// migration. Units execute against ExecutionContext.Handle, which must be a
// *sql.DB or another value implementing Execer and TxBeginner.
func Load(fsys fs.FS, dir string) ([]migration.Unit, error) {
	if dir == "" {
		dir = "."
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, &FileError{Path: dir, Op: "read directory", Err: err}
	}

	var units []migration.Unit
	pairs := make(map[string]*pair)

	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(fileName, sqlSuffix) {
			continue
		}
		filePath := path.Join(dir, fileName)

		data, err := fs.ReadFile(fsys, filePath)
		if err != nil {
			return nil, &FileError{Path: filePath, Op: "read", Err: err}
		}
		content := string(data)

		switch {
		case strings.HasSuffix(fileName, upSuffix):
			p := pairFor(pairs, strings.TrimSuffix(fileName, upSuffix))
			p.up, p.upPath = content, filePath
		case strings.HasSuffix(fileName, downSuffix):
			p := pairFor(pairs, strings.TrimSuffix(fileName, downSuffix))
			p.down, p.downPath = content, filePath
		default:
			unit, err := singleFileUnit(strings.TrimSuffix(fileName, sqlSuffix), filePath, content)
			if err != nil {
				return nil, err
			}
			units = append(units, unit)
		}
	}

	names := make([]string, 0, len(pairs))
	for name := range pairs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		unit, err := pairedUnit(name, pairs[name])
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}

	return units, nil
}

func pairFor(pairs map[string]*pair, name string) *pair {
	p, ok := pairs[name]
	if !ok {
		p = &pair{}
		pairs[name] = p
	}
	return p
}

func singleFileUnit(name, filePath, content string) (migration.Unit, error) {
	s, err := parseAnnotated(content)
	if err != nil {
		return migration.Unit{}, &FileError{Path: filePath, Op: "parse", Err: err}
	}

	unit := migration.Unit{
		Name:     name,
		Up:       statements(s.up, s.noTransaction),
		Source:   filePath,
		Checksum: checksum(content),
	}
	if s.hasDown {
		unit.Down = statements(s.down, s.noTransaction)
	}
	return unit, nil
}

func pairedUnit(name string, p *pair) (migration.Unit, error) {
	if p.upPath == "" {
		return migration.Unit{}, &FileError{
			Path: p.downPath,
			Op:   "pair",
			Err:  fmt.Errorf("%w: no matching %s%s", ErrInvalidMigrationFile, name, upSuffix),
		}
	}

	up, err := parseAnnotated(p.up)
	if err != nil {
		return migration.Unit{}, &FileError{Path: p.upPath, Op: "parse", Err: err}
	}
	unit := migration.Unit{
		Name:     name,
		Up:       statements(up.up, up.noTransaction),
		Source:   p.upPath,
		Checksum: checksum(p.up, p.down),
	}

	if p.downPath != "" {
		down, err := parseAnnotated(p.down)
		if err != nil {
			return migration.Unit{}, &FileError{Path: p.downPath, Op: "parse", Err: err}
		}
		unit.Down = statements(down.up, down.noTransaction)
	}
	return unit, nil
}

// checksum returns the hex blake2b-256 digest of the given contents.
func checksum(contents ...string) string {
	h, _ := blake2b.New256(nil)
	for i, content := range contents {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(content))
	}
	return hex.EncodeToString(h.Sum(nil))
}
