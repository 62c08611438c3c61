// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plansource

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/forgeplan/forgeplan/services/plan_engine/plan"
)

// Watcher emits plans dropped as .json files into a directory. Useful for
// the fixture-driven development loop: save a plan file, get a preview.
//
// Thread Safety: one goroutine owns the event loop; Plans and Errs are
// closed when the watcher stops.
type Watcher struct {
	dir   string
	log   *slog.Logger
	fsw   *fsnotify.Watcher
	plans chan *plan.Plan
	errs  chan error
}

// Watch starts watching dir for plan files. Cancel ctx to stop; both
// channels close after the last event is delivered.
func Watch(ctx context.Context, dir string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		dir:   dir,
		log:   log,
		fsw:   fsw,
		plans: make(chan *plan.Plan),
		errs:  make(chan error),
	}
	go w.loop(ctx)
	log.Info("watching plan drop directory", slog.String("dir", dir))
	return w, nil
}

// Plans delivers decoded plans as files land in the directory.
func (w *Watcher) Plans() <-chan *plan.Plan { return w.plans }

// Errs delivers decode failures. The loop keeps running after one bad file.
func (w *Watcher) Errs() <-chan error { return w.errs }

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		_ = w.fsw.Close()
		close(w.plans)
		close(w.errs)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Editors fire Create then Write; acting on Write alone would
			// miss atomic renames, so take both and tolerate re-reads.
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.ToLower(filepath.Ext(ev.Name)) != ".json" {
				continue
			}
			p, err := File(ev.Name)
			if err != nil {
				w.log.Warn("dropped plan failed to decode",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()))
				select {
				case w.errs <- err:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case w.plans <- p:
			case <-ctx.Done():
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			case <-ctx.Done():
				return
			}
		}
	}
}
