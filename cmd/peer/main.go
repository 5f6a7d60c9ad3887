// Command peer runs one participant in the fixed-membership file-sharing
// swarm described by Common.cfg and PeerInfo.cfg in the current directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gopeers/p2pfileshare/internal/config"
	"github.com/gopeers/p2pfileshare/internal/eventlog"
	"github.com/gopeers/p2pfileshare/internal/lifecycle"
	"github.com/gopeers/p2pfileshare/internal/store"
)

const (
	commonConfigFile = "Common.cfg"
	rosterConfigFile = "PeerInfo.cfg"
	workDir          = "."
)

func main() {
	os.Exit(run())
}

func run() int {
	var useColor bool
	flag.BoolVar(&useColor, "v", false, "mirror log events to stderr, colorized")
	flag.BoolVar(&useColor, "color", false, "mirror log events to stderr, colorized")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-v] <peerId>\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}
	selfID, err := strconv.Atoi(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "peer id must be an integer: %v\n", err)
		return 2
	}

	params, err := config.LoadCommon(commonConfigFile)
	if err != nil {
		slog.Error("failed to load common config", "error", err)
		return 1
	}
	roster, err := config.LoadRoster(rosterConfigFile)
	if err != nil {
		slog.Error("failed to load peer roster", "error", err)
		return 1
	}
	self, err := config.Self(roster, selfID)
	if err != nil {
		slog.Error("unknown peer id", "id", selfID, "error", err)
		return 1
	}

	path := lifecycle.WorkFilePath(workDir, self.ID, params.FileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Error("failed to create peer directory", "error", err)
		return 1
	}

	layout := store.Layout{FileSize: params.FileSize, PieceSize: params.PieceSize, PieceCount: params.PieceCount}

	var st store.Store
	if self.HasFile {
		st, err = store.OpenSeed(path, layout)
	} else {
		st, err = store.OpenLeecher(path, layout)
	}
	if err != nil {
		slog.Error("failed to open piece store", "error", err)
		return 1
	}

	log, err := eventlog.Open(workDir, self.ID, useColor)
	if err != nil {
		slog.Error("failed to open event log", "error", err)
		_ = st.Close()
		return 1
	}

	ctl := lifecycle.New(workDir, params, roster, self, st, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := ctl.Run(ctx); err != nil {
		slog.Error("peer exited with error", "error", err)
		return 1
	}
	return 0
}
