// Package eventlog is the event-logging collaborator described in §4.8: a
// fixed set of structured event-recording calls, each writing one
// timestamped line to this peer's log file.
//
// It is a custom slog.Handler behind a mutex-guarded writer, rendering a
// fixed single-line sentence format instead of a leveled, multi-field
// console line.
package eventlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const timeLayout = "2006-01-02 15:04:05"

// Log is this peer's event logger: every call renders one line of the form
// "YYYY-MM-DD HH:MM:SS: Peer <id> <sentence>." to the log file, truncated
// on start.
type Log struct {
	selfID int
	sl     *slog.Logger
	file   *os.File
}

// Open truncates (or creates) log_<peerID>.log in dir and returns a Log
// bound to it. When useColor is true, events are also mirrored to stderr
// through fatih/color for interactive runs; the on-disk file is always
// plain text.
func Open(dir string, peerID int, useColor bool) (*Log, error) {
	path := fmt.Sprintf("%s/log_%d.log", dir, peerID)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}

	var w io.Writer = f
	h := newLineHandler(w, peerID, false)

	if useColor {
		mirror := newLineHandler(os.Stderr, peerID, true)
		h = teeHandler{a: h, b: mirror}
	}

	return &Log{selfID: peerID, sl: slog.New(h), file: f}, nil
}

// Close flushes and closes the underlying log file.
func (l *Log) Close() error {
	return l.file.Close()
}

func (l *Log) record(sentence string) {
	l.sl.Info(sentence)
}

func (l *Log) ConnectedOutbound(peer int) {
	l.record(fmt.Sprintf("makes a connection to Peer %d", peer))
}

func (l *Log) ConnectedInbound(peer int) {
	l.record(fmt.Sprintf("is connected from Peer %d", peer))
}

func (l *Log) PreferredChanged(ids []int) {
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprintf("%d", id)
	}
	l.record(fmt.Sprintf("has the preferred neighbors [%s]", strings.Join(parts, ",")))
}

func (l *Log) OptimisticChanged(peer int) {
	l.record(fmt.Sprintf("has the optimistically unchoked neighbor %d", peer))
}

func (l *Log) ChokedBy(peer int) {
	l.record(fmt.Sprintf("is choked by %d", peer))
}

func (l *Log) UnchokedBy(peer int) {
	l.record(fmt.Sprintf("is unchoked by %d", peer))
}

func (l *Log) ReceivedHave(peer, index int) {
	l.record(fmt.Sprintf("received the 'have' message from %d for the piece %d", peer, index))
}

func (l *Log) ReceivedInterested(peer int) {
	l.record(fmt.Sprintf("received the 'interested' message from %d", peer))
}

func (l *Log) ReceivedNotInterested(peer int) {
	l.record(fmt.Sprintf("received the 'not interested' message from %d", peer))
}

func (l *Log) DownloadedPiece(index, from, have int) {
	l.record(fmt.Sprintf("has downloaded the piece %d from %d. Now the number of pieces it has is %d", index, from, have))
}

func (l *Log) LocalComplete() {
	l.record("has downloaded the complete file")
}

// lineHandler renders one slog.Record per event sentence in the format
// "YYYY-MM-DD HH:MM:SS: Peer <id> <sentence>." It ignores level, groups,
// and attrs — the collaborator contract is a fixed sentence set, not a
// general-purpose structured log.
type lineHandler struct {
	mu       *sync.Mutex
	w        io.Writer
	peerID   int
	colorize bool
	prefix   func(...any) string
}

func newLineHandler(w io.Writer, peerID int, colorize bool) *lineHandler {
	h := &lineHandler{mu: &sync.Mutex{}, w: w, peerID: peerID, colorize: colorize}
	if colorize {
		h.prefix = color.New(color.FgGreen).SprintFunc()
	} else {
		h.prefix = func(a ...any) string { return fmt.Sprint(a...) }
	}
	return h
}

func (h *lineHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	line := fmt.Sprintf("%s: %s.\n", r.Time.Format(timeLayout), h.prefix(fmt.Sprintf("Peer %d %s", h.peerID, r.Message)))

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *lineHandler) WithGroup(name string) slog.Handler       { return h }

// teeHandler fans a record out to two handlers — used to mirror every
// event to both the canonical log file and an optional colorized stderr
// stream.
type teeHandler struct {
	a, b slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, lv slog.Level) bool {
	return t.a.Enabled(ctx, lv) || t.b.Enabled(ctx, lv)
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := t.a.Handle(ctx, r); err != nil {
		return err
	}
	return t.b.Handle(ctx, r)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{a: t.a.WithAttrs(attrs), b: t.b.WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{a: t.a.WithGroup(name), b: t.b.WithGroup(name)}
}
