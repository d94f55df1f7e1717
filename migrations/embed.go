// Package migrations embeds the baseline schema of the POS backend and the
// schema it is expected to produce.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql expected_schema.yaml
var files embed.FS

// ExpectedSchemaFile is the name of the expectation file inside FS.
const ExpectedSchemaFile = "expected_schema.yaml"

// FS returns the embedded migration files rooted at ".".
func FS() fs.FS {
	return files
}
