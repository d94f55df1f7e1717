package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavour spoken by the target database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect derives the dialect from a connection URL scheme.
func ParseDialect(rawURL string) (Dialect, error) {
	value := strings.TrimSpace(rawURL)
	lower := strings.ToLower(value)
	switch {
	case value == "":
		return "", fmt.Errorf("database url is empty")
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres, nil
	case strings.HasPrefix(lower, "mysql://"):
		return MySQL, nil
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "sqlite3://"),
		strings.HasPrefix(lower, "file:"), lower == ":memory:":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database url scheme in %q", redact(value))
}

// String implements fmt.Stringer.
func (d Dialect) String() string {
	return string(d)
}

// Rebind rewrites '?' placeholders into the dialect's positional form.
// Queries passed here must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QuoteIdent quotes a table or column identifier.
func (d Dialect) QuoteIdent(name string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// redact strips the password from a URL-shaped string for error messages.
func redact(rawURL string) string {
	schemeEnd := strings.Index(rawURL, "://")
	at := strings.LastIndex(rawURL, "@")
	if schemeEnd < 0 || at < schemeEnd {
		return rawURL
	}
	userinfo := rawURL[schemeEnd+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		userinfo = userinfo[:colon] + ":xxxxx"
	}
	return rawURL[:schemeEnd+3] + userinfo + rawURL[at:]
}
