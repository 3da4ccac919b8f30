// Package config parses the two fixed-format configuration files described
// in spec.md §6, plus an optional ambient YAML overrides file for knobs the
// protocol itself doesn't name (queue depth, deadlines, ledger path, log
// level). The six-line Common.cfg / PeerInfo.cfg grammar is scanned with
// bufio.Scanner: a whitespace-separated fixed grammar gains nothing from a
// parser library, so this corner of the repo stays on the standard library
// (see DESIGN.md).
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Common holds the six keys of Common.cfg.
type Common struct {
	NumberOfPreferredNeighbors  int
	UnchokingInterval           int // seconds
	OptimisticUnchokingInterval int // seconds
	FileName                    string
	FileSize                    int64
	PieceSize                   int64
}

// NumberOfPieces returns ceil(FileSize / PieceSize), per spec.md §3.
func (c Common) NumberOfPieces() int {
	if c.PieceSize <= 0 {
		return 0
	}
	n := c.FileSize / c.PieceSize
	if c.FileSize%c.PieceSize != 0 {
		n++
	}
	return int(n)
}

var commonKeys = map[string]bool{
	"NumberOfPreferredNeighbors":  true,
	"UnchokingInterval":           true,
	"OptimisticUnchokingInterval": true,
	"FileName":                    true,
	"FileSize":                    true,
	"PieceSize":                   true,
}

// ParseCommon reads Common.cfg from path. A configuration error here is
// fatal at startup, per spec.md §7(d).
func ParseCommon(path string) (Common, error) {
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return Common{}, fmt.Errorf("config: cannot open %s: %w", path, err)
	}
	defer f.Close()
	return parseCommon(f)
}

func parseCommon(r io.Reader) (Common, error) {
	var c Common
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return Common{}, fmt.Errorf("config: malformed Common.cfg line %q", line)
		}
		key, value := fields[0], fields[1]
		if !commonKeys[key] {
			return Common{}, fmt.Errorf("config: unknown Common.cfg key %q", key)
		}
		seen[key] = true
		var err error
		switch key {
		case "NumberOfPreferredNeighbors":
			c.NumberOfPreferredNeighbors, err = strconv.Atoi(value)
		case "UnchokingInterval":
			c.UnchokingInterval, err = strconv.Atoi(value)
		case "OptimisticUnchokingInterval":
			c.OptimisticUnchokingInterval, err = strconv.Atoi(value)
		case "FileName":
			c.FileName = value
		case "FileSize":
			c.FileSize, err = strconv.ParseInt(value, 10, 64)
		case "PieceSize":
			c.PieceSize, err = strconv.ParseInt(value, 10, 64)
		}
		if err != nil {
			return Common{}, fmt.Errorf("config: bad value for %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Common{}, err
	}
	for key := range commonKeys {
		if !seen[key] {
			return Common{}, fmt.Errorf("config: Common.cfg missing key %q", key)
		}
	}
	return c, nil
}
