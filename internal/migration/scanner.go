package migration

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

// migrationFilePattern matches {version}_{description}[.up|.down].sql. The
// version part is captured loosely so that malformed identifiers such as
// "003b" are reported instead of silently skipped.
var migrationFilePattern = regexp.MustCompile(`^([^_.]+)(?:_([^.]*))?(?:\.(up|down))?\.sql$`)

var markerPattern = regexp.MustCompile(`(?i)^--\s*\+migrate\s+(up|down)\b`)

// sqlFile is one parsed file from a migration directory.
type sqlFile struct {
	path        string
	identifier  string
	description string
	direction   Direction // empty for single-file migrations
	content     string
}

// scanDir reads every .sql file in dir. Naming problems are collected so one
// bad file does not hide the others.
func scanDir(fsys fs.FS, dir string) ([]sqlFile, []error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, []error{&DiscoveryError{Source: dir, Err: fmt.Errorf("read migration directory: %w", err)}}
	}

	var (
		files []sqlFile
		errs  []error
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		filePath := path.Join(dir, entry.Name())

		matches := migrationFilePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			errs = append(errs, discoveryErrorf(filePath, "",
				"filename does not match {version}_{description}.sql"))
			continue
		}
		identifier := matches[1]
		if !isDigits(identifier) {
			errs = append(errs, discoveryErrorf(filePath, identifier,
				"version %q is not a zero-padded number", identifier))
			continue
		}

		content, err := fs.ReadFile(fsys, filePath)
		if err != nil {
			errs = append(errs, &DiscoveryError{Source: filePath, Identifier: identifier, Err: fmt.Errorf("read file: %w", err)})
			continue
		}

		files = append(files, sqlFile{
			path:        filePath,
			identifier:  identifier,
			description: strings.ReplaceAll(matches[2], "_", " "),
			direction:   Direction(matches[3]),
			content:     string(content),
		})
	}
	return files, errs
}

// assemble pairs up/down files and splits marker sections into migrations.
func assemble(files []sqlFile) ([]Migration, []error) {
	type pair struct {
		up, down *sqlFile
	}
	var (
		order []string
		pairs = make(map[string]*pair)
		errs  []error
	)
	for i := range files {
		f := &files[i]
		p, ok := pairs[f.identifier]
		if !ok {
			p = &pair{}
			pairs[f.identifier] = p
			order = append(order, f.identifier)
		}
		switch f.direction {
		case Down:
			if p.down != nil {
				errs = append(errs, discoveryErrorf(f.path, f.identifier,
					"%w: down action also defined in %s", errDuplicateVersion, p.down.path))
				continue
			}
			p.down = f
		default:
			if p.up != nil {
				errs = append(errs, discoveryErrorf(f.path, f.identifier,
					"%w: also defined in %s", errDuplicateVersion, p.up.path))
				continue
			}
			p.up = f
		}
	}

	migrations := make([]Migration, 0, len(order))
	for _, identifier := range order {
		p := pairs[identifier]
		if p.up == nil {
			errs = append(errs, discoveryErrorf(p.down.path, identifier, "down file has no matching up file"))
			continue
		}
		m, err := parseMigration(p.up, p.down)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		migrations = append(migrations, m)
	}
	return migrations, errs
}

func parseMigration(up, down *sqlFile) (Migration, error) {
	upBody := up.content
	var downBody string
	if up.direction == "" {
		if u, d, ok := splitSections(up.content); ok {
			if down != nil {
				return Migration{}, discoveryErrorf(up.path, up.identifier,
					"down section conflicts with %s", down.path)
			}
			upBody, downBody = u, d
		}
	}
	if down != nil {
		downBody = down.content
	}

	if !hasStatements(upBody) {
		return Migration{}, discoveryErrorf(up.path, up.identifier, "up action is empty")
	}

	description := extractDescription(up.content)
	if description == "" {
		description = up.description
	}

	m := Migration{
		Identifier:  up.identifier,
		Description: description,
		Up:          SQL(upBody),
		Source:      up.path,
		Checksum:    calculateChecksum(upBody),
	}
	if hasStatements(downBody) {
		m.Down = SQL(downBody)
	}
	return m, nil
}

// splitSections splits a single file on "-- +migrate Up" and
// "-- +migrate Down" markers. ok is false when the file has no markers.
func splitSections(content string) (up, down string, ok bool) {
	var (
		current *strings.Builder
		upB     strings.Builder
		downB   strings.Builder
	)
	for _, line := range strings.SplitAfter(content, "\n") {
		if m := markerPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			ok = true
			if strings.EqualFold(m[1], "up") {
				current = &upB
			} else {
				current = &downB
			}
			continue
		}
		if current != nil {
			current.WriteString(line)
		}
	}
	return upB.String(), downB.String(), ok
}

// hasStatements reports whether body contains anything besides whitespace
// and line comments.
func hasStatements(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}

// extractDescription reads a "-- Description: ..." line from the leading
// comment block.
func extractDescription(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		if rest, found := strings.CutPrefix(line, "-- Description:"); found {
			if description := strings.TrimSpace(rest); description != "" {
				return description
			}
		}
	}
	return ""
}

func calculateChecksum(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
