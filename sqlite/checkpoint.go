package sqlite

import (
	"fmt"
	"strings"
)

// CheckpointMode selects how aggressively the WAL is folded back into
// the database file.
type CheckpointMode string

const (
	// CheckpointPassive copies what it can without waiting on readers or
	// writers.
	CheckpointPassive CheckpointMode = "PASSIVE"

	// CheckpointFull blocks new writers until every frame is copied.
	CheckpointFull CheckpointMode = "FULL"

	// CheckpointRestart is FULL, then waits for readers so the next
	// writer starts the log from the beginning.
	CheckpointRestart CheckpointMode = "RESTART"

	// CheckpointTruncate is RESTART, then truncates the -wal file to
	// zero bytes.
	CheckpointTruncate CheckpointMode = "TRUNCATE"
)

// CheckpointModes lists the modes from least to most aggressive.
var CheckpointModes = []CheckpointMode{
	CheckpointPassive,
	CheckpointFull,
	CheckpointRestart,
	CheckpointTruncate,
}

// ParseCheckpointMode accepts a mode name in any case. An empty string
// means PASSIVE.
func ParseCheckpointMode(s string) (CheckpointMode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return CheckpointPassive, nil
	}
	mode := CheckpointMode(s)
	if !mode.Valid() {
		return "", fmt.Errorf("sqlite: unknown checkpoint mode %q", s)
	}
	return mode, nil
}

// Valid reports whether m is one of the four engine modes.
func (m CheckpointMode) Valid() bool {
	switch m {
	case CheckpointPassive, CheckpointFull, CheckpointRestart, CheckpointTruncate:
		return true
	}
	return false
}

func (m CheckpointMode) String() string { return string(m) }

// CheckpointResult is the row returned by PRAGMA wal_checkpoint.
type CheckpointResult struct {
	// Busy is nonzero when the checkpoint could not finish because a
	// reader or writer held a lock it needed.
	Busy int `json:"busy"`

	// Log is the number of frames in the WAL, or -1 when the database
	// is not in WAL mode.
	Log int `json:"log"`

	// Checkpointed is the number of frames copied back, or -1 when the
	// database is not in WAL mode.
	Checkpointed int `json:"checkpointed"`
}

// Complete reports whether every frame in the log was copied back.
func (r CheckpointResult) Complete() bool {
	return r.Busy == 0 && r.Checkpointed == r.Log
}

// WALPath returns the write-ahead log path for a database file.
func WALPath(path string) string { return path + "-wal" }

// SHMPath returns the shared-memory index path for a database file.
func SHMPath(path string) string { return path + "-shm" }
