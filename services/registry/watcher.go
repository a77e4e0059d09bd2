// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce absorbs editor write bursts (truncate + write + rename) so a
// save reloads the file once.
const debounce = 250 * time.Millisecond

// Watch reloads the entity definitions file whenever it changes, until
// the context is cancelled. A reload that fails to parse keeps the
// previous entity set; the watcher never propagates reload errors.
//
// The parent directory is watched rather than the file itself so
// rename-based atomic saves keep working.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					if err := r.LoadFile(path); err != nil {
						slog.Warn("entity definitions reload failed, keeping previous set",
							"path", path, "error", err)
						return
					}
					slog.Info("entity definitions reloaded", "path", path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("entity definitions watcher error", "error", err)
			}
		}
	}()

	slog.Info("watching entity definitions", "path", path)
	return nil
}
