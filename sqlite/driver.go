package sqlite

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Driver names a database/sql driver able to open SQLite files.
type Driver string

const (
	// DriverCGO is mattn/go-sqlite3, registered by gorm.io/driver/sqlite.
	DriverCGO Driver = "sqlite3"

	// DriverPure is modernc.org/sqlite, a cgo-free translation of SQLite.
	DriverPure Driver = "sqlite"
)

// ParseDriver accepts the driver names used in configuration files.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite3", "cgo", "mattn":
		return DriverCGO, nil
	case "sqlite", "pure", "modernc":
		return DriverPure, nil
	default:
		return "", fmt.Errorf("sqlite: unknown driver %q", name)
	}
}

func (d Driver) String() string { return string(d) }

// dsn builds a file URI understood by both drivers. Path segments are
// percent-encoded so '?', '#' and '%' in a file name reach SQLite intact.
func (d Driver) dsn(path string, readOnly, txImmediate bool) string {
	params := url.Values{}
	if readOnly {
		params.Set("mode", "ro")
	} else if txImmediate {
		params.Set("_txlock", "immediate")
	}

	segments := strings.Split(filepath.ToSlash(path), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := url.URL{
		Scheme:   "file",
		Opaque:   strings.Join(segments, "/"),
		RawQuery: params.Encode(),
	}
	return u.String()
}
