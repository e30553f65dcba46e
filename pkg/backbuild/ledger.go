package backbuild

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LedgerStatus is the outcome of a build as recorded in the ledger
type LedgerStatus string

const (
	StatusSuccess LedgerStatus = "success"
	StatusFailure LedgerStatus = "failure"
)

// A Ledger is the append-only file of commits that were already built, one "<sha>:<status>" per line.
// It is the only record of what was built, so every write is synced before returning.
// It is not safe for concurrent use.
type Ledger struct {
	path string
	file *os.File
}

// OpenLedger opens the ledger at path for reading and appending, creating it if it doesn't exist yet.
func OpenLedger(path string) (*Ledger, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open ledger %s", path), err)
	}
	return &Ledger{path: path, file: file}, nil
}

// Load replays the ledger and returns the set of all commits in it.
// Failed builds are included, so they are never retried.
func (l *Ledger) Load() (map[Sha]struct{}, error) {
	entries, err := l.LoadStatuses()
	if err != nil {
		return nil, err
	}
	built := make(map[Sha]struct{}, len(entries))
	for commit := range entries {
		built[commit] = struct{}{}
	}
	return built, nil
}

// LoadStatuses replays the ledger and returns the recorded status of every commit in it.
// If a commit appears more than once, its last line wins.
func (l *Ledger) LoadStatuses() (map[Sha]LedgerStatus, error) {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to rewind ledger %s", l.path), err)
	}

	entries := make(map[Sha]LedgerStatus)
	scanner := bufio.NewScanner(l.file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		hash, status, _ := strings.Cut(line, ":")
		entries[Sha(hash)] = LedgerStatus(status)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to read ledger %s", l.path), err)
	}
	return entries, nil
}

// Append records the outcome of a build and syncs it to disk.
func (l *Ledger) Append(commit Sha, status LedgerStatus) error {
	if _, err := fmt.Fprintf(l.file, "%s:%s\n", commit, status); err != nil {
		return errors.Join(fmt.Errorf("failed to append %s to ledger %s", commit, l.path), err)
	}
	if err := l.file.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync ledger %s", l.path), err)
	}
	return nil
}

// Close closes the underlying file
func (l *Ledger) Close() error {
	return l.file.Close()
}
