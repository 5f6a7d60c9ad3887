// Package config loads the two whitespace-delimited configuration files
// that supply a run's immutable parameters and static peer roster.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RunParameters holds the immutable-after-start values parsed from
// Common.cfg, plus the piece count N derived from FileSize and PieceSize.
type RunParameters struct {
	PreferredNeighborCount int
	UnchokingInterval      time.Duration
	OptimisticInterval     time.Duration
	FileName               string
	FileSize               int64
	PieceSize              int64
	PieceCount             int
}

// PeerDescriptor is one record of PeerInfo.cfg: a roster entry.
type PeerDescriptor struct {
	ID      int
	Host    string
	Port    int
	HasFile bool
}

// ErrConfig wraps any missing, malformed, or inconsistent configuration.
type ErrConfig struct{ reason string }

func (e *ErrConfig) Error() string { return "config: " + e.reason }

func configErrf(format string, args ...any) error {
	return &ErrConfig{reason: fmt.Sprintf(format, args...)}
}

// LoadCommon parses Common.cfg. Unknown keys are ignored; order is
// irrelevant.
func LoadCommon(path string) (RunParameters, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunParameters{}, configErrf("open %s: %v", path, err)
	}
	defer f.Close()

	raw := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		raw[fields[0]] = fields[1]
	}
	if err := sc.Err(); err != nil {
		return RunParameters{}, configErrf("read %s: %v", path, err)
	}

	var rp RunParameters

	n, err := requireInt(raw, "NumberOfPreferredNeighbors")
	if err != nil {
		return RunParameters{}, err
	}
	rp.PreferredNeighborCount = n

	unchokeSecs, err := requireInt(raw, "UnchokingInterval")
	if err != nil {
		return RunParameters{}, err
	}
	rp.UnchokingInterval = time.Duration(unchokeSecs) * time.Second

	optSecs, err := requireInt(raw, "OptimisticUnchokingInterval")
	if err != nil {
		return RunParameters{}, err
	}
	rp.OptimisticInterval = time.Duration(optSecs) * time.Second

	name, ok := raw["FileName"]
	if !ok {
		return RunParameters{}, configErrf("missing FileName")
	}
	rp.FileName = name

	size, err := requireInt(raw, "FileSize")
	if err != nil {
		return RunParameters{}, err
	}
	rp.FileSize = int64(size)

	piece, err := requireInt(raw, "PieceSize")
	if err != nil {
		return RunParameters{}, err
	}
	rp.PieceSize = int64(piece)

	if rp.PieceSize <= 0 {
		return RunParameters{}, configErrf("PieceSize must be positive")
	}
	rp.PieceCount = int((rp.FileSize + rp.PieceSize - 1) / rp.PieceSize)

	return rp, nil
}

func requireInt(raw map[string]string, key string) (int, error) {
	v, ok := raw[key]
	if !ok {
		return 0, configErrf("missing %s", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, configErrf("%s: %v", key, err)
	}
	return n, nil
}

// LoadRoster parses PeerInfo.cfg. Record order defines dial order: a peer
// dials every peer with a strictly lower id, in the order they are listed.
func LoadRoster(path string) ([]PeerDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, configErrf("open %s: %v", path, err)
	}
	defer f.Close()

	var roster []PeerDescriptor
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, configErrf("malformed PeerInfo record: %q", line)
		}

		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, configErrf("peer id: %v", err)
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, configErrf("port: %v", err)
		}
		hasFile, err := strconv.Atoi(fields[3])
		if err != nil || (hasFile != 0 && hasFile != 1) {
			return nil, configErrf("hasFile must be 0 or 1: %q", fields[3])
		}

		roster = append(roster, PeerDescriptor{
			ID:      id,
			Host:    fields[1],
			Port:    port,
			HasFile: hasFile == 1,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, configErrf("read %s: %v", path, err)
	}
	if len(roster) == 0 {
		return nil, configErrf("empty roster in %s", path)
	}

	return roster, nil
}

// Self returns this process's own descriptor, or an error if id is absent
// from the roster.
func Self(roster []PeerDescriptor, id int) (PeerDescriptor, error) {
	for _, d := range roster {
		if d.ID == id {
			return d, nil
		}
	}
	return PeerDescriptor{}, configErrf("peer id %d not present in roster", id)
}

// LowerIDPeers returns the roster entries with id strictly less than
// self's, in roster order — the dial set for §4.7 step 4.
func LowerIDPeers(roster []PeerDescriptor, self int) []PeerDescriptor {
	var out []PeerDescriptor
	for _, d := range roster {
		if d.ID < self {
			out = append(out, d)
		}
	}
	return out
}
