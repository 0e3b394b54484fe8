package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gemini-oss/dnshield/clock"
	"github.com/gemini-oss/dnshield/logging"
)

// maxDedupEntries bounds the commandId de-dup set (§4.8 "deduplicates by
// commandId (bounded 100-entry set)").
const maxDedupEntries = 100

// reapAge is how old an unprocessed command file must be before the
// reaper removes it unread (§4.8 "Files older than 1 hour are reaped").
const reapAge = time.Hour

// pollInterval is the belt-and-suspenders fallback scan, the same
// defensive-polling shape updater.RunSimple's ticker already uses, for
// filesystems where fsnotify is unreliable (network shares, some
// container overlays).
const pollInterval = 5 * time.Second

// Handlers dispatches each supported command Type to the rest of the
// daemon. A nil field fails any command of that type with
// ErrHandlerNotConfigured rather than panicking.
type Handlers struct {
	SyncRules           func(ctx context.Context) error
	UpdateRules         func(ctx context.Context) error
	ClearCache          func() error
	ReloadConfiguration func() error
	GetStatus           func() (map[string]any, error)
}

// Channel is the file-queue control plane of §4.8: it watches
// IncomingDir, consumes one command file at a time on a serial worker,
// deletes the file on read, deduplicates by commandId, dispatches to
// Handlers, and optionally writes a response under ResponsesDir.
// Generalizes updater/updater.go's timer-driven reload loop
// ({Tick} -> ReloadRules) into a {Tick, FileCreated(path)} message-driven
// worker.
type Channel struct {
	IncomingDir  string
	ResponsesDir string
	Handlers     Handlers
	Clock        clock.Clock
	Logger       logging.Logger

	mu     sync.Mutex
	seen   []string
	seenOK map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Channel. incomingDir and responsesDir are created if
// they don't already exist.
func New(incomingDir, responsesDir string, handlers Handlers, logger logging.Logger) (*Channel, error) {
	if err := os.MkdirAll(incomingDir, 0o777); err != nil {
		return nil, fmt.Errorf("command: creating incoming dir: %w", err)
	}
	if err := os.MkdirAll(responsesDir, 0o777); err != nil {
		return nil, fmt.Errorf("command: creating responses dir: %w", err)
	}
	return &Channel{
		IncomingDir:  incomingDir,
		ResponsesDir: responsesDir,
		Handlers:     handlers,
		Clock:        clock.Real{},
		Logger:       logging.OrNop(logger),
		seenOK:       map[string]bool{},
	}, nil
}

// Start launches the watcher and serial worker goroutines. Stop shuts
// them down.
func (c *Channel) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("command: starting watcher: %w", err)
	}
	if err := watcher.Add(c.IncomingDir); err != nil {
		watcher.Close()
		return fmt.Errorf("command: watching %s: %w", c.IncomingDir, err)
	}

	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.run(ctx, watcher)

	// Catch up on anything already in the directory at startup, the way
	// a restart-surviving queue must (§4.8 "at-most-once delivery").
	c.scanAndProcess(ctx)
	return nil
}

// Stop shuts down the watcher and worker goroutine, waiting for any
// in-flight command to finish.
func (c *Channel) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
	c.stopCh = nil
}

func (c *Channel) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer c.wg.Done()
	defer watcher.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				c.processFile(ctx, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.Logger.Warn("command: watcher error", "err", err)
		case <-ticker.C:
			c.scanAndProcess(ctx)
		}
	}
}

// scanAndProcess lists IncomingDir in filename order (oldest commands
// first, since filenames embed an epoch timestamp) and processes every
// entry serially, reaping anything too old to still be worth processing.
func (c *Channel) scanAndProcess(ctx context.Context) {
	entries, err := os.ReadDir(c.IncomingDir)
	if err != nil {
		c.Logger.Warn("command: reading incoming dir failed", "err", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	now := c.Clock.Now()
	for _, name := range names {
		path := filepath.Join(c.IncomingDir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue // already consumed by another pass/race
		}
		if now.Sub(info.ModTime()) > reapAge {
			c.Logger.Warn("command: reaping stale command file", "path", path, "age", now.Sub(info.ModTime()))
			os.Remove(path)
			continue
		}
		c.processFile(ctx, path)
	}
}

// processFile reads, deletes, and dispatches one command file. Deleting
// before dispatch (rather than after) is what makes "only the worker with
// the lock deletes a file" (§4.8) provide mutual exclusion: a second
// observer of the same path (fsnotify event racing a poll tick) finds it
// already gone and does nothing.
func (c *Channel) processFile(ctx context.Context, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return // already consumed
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.Logger.Warn("command: removing command file failed", "path", path, "err", err)
	}

	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.Logger.Warn("command: malformed command file", "path", path, "err", err)
		return
	}
	if cmd.CommandID == "" {
		c.Logger.Warn("command: command file missing commandId", "path", path)
		return
	}

	if c.markSeen(cmd.CommandID) {
		c.Logger.Debug("command: duplicate commandId, skipping", "command_id", cmd.CommandID)
		return
	}

	resp := c.dispatch(ctx, cmd)
	c.writeResponse(resp)
}

// markSeen reports whether commandId has already been processed,
// recording it if not. The set is bounded to maxDedupEntries, evicting
// the oldest entry first (§4.8 "bounded 100-entry set").
func (c *Channel) markSeen(commandID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seenOK[commandID] {
		return true
	}
	if len(c.seen) >= maxDedupEntries {
		oldest := c.seen[0]
		c.seen = c.seen[1:]
		delete(c.seenOK, oldest)
	}
	c.seen = append(c.seen, commandID)
	c.seenOK[commandID] = true
	return false
}

// dispatch routes cmd to the configured Handlers, per §4.8's five
// supported types.
func (c *Channel) dispatch(ctx context.Context, cmd Command) Response {
	resp := Response{CommandID: cmd.CommandID, Timestamp: c.Clock.Now().UTC().Format(time.RFC3339)}

	var err error
	switch cmd.Type {
	case TypeSyncRules:
		if c.Handlers.SyncRules == nil {
			err = ErrHandlerNotConfigured
		} else {
			err = c.Handlers.SyncRules(ctx)
		}
	case TypeUpdateRules:
		if c.Handlers.UpdateRules == nil {
			err = ErrHandlerNotConfigured
		} else {
			err = c.Handlers.UpdateRules(ctx)
		}
	case TypeClearCache:
		if c.Handlers.ClearCache == nil {
			err = ErrHandlerNotConfigured
		} else {
			err = c.Handlers.ClearCache()
		}
	case TypeReloadConfiguration:
		if c.Handlers.ReloadConfiguration == nil {
			err = ErrHandlerNotConfigured
		} else {
			err = c.Handlers.ReloadConfiguration()
		}
	case TypeGetStatus:
		if c.Handlers.GetStatus == nil {
			err = ErrHandlerNotConfigured
		} else {
			var status map[string]any
			status, err = c.Handlers.GetStatus()
			resp.Status = status
		}
	default:
		err = ErrUnknownCommandType
	}

	if err != nil {
		resp.Success = false
		resp.Message = err.Error()
		c.Logger.Warn("command: dispatch failed", "command_id", cmd.CommandID, "type", cmd.Type, "err", err)
	} else {
		resp.Success = true
		resp.Message = "ok"
	}
	return resp
}

func (c *Channel) writeResponse(resp Response) {
	raw, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		c.Logger.Warn("command: encoding response failed", "command_id", resp.CommandID, "err", err)
		return
	}
	path := filepath.Join(c.ResponsesDir, resp.CommandID+"_response.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		c.Logger.Warn("command: writing response failed", "path", path, "err", err)
	}
}
