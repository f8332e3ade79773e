// Package coordinator fans source-registry snapshots out to the workers
// serving requests. Refresh is fire-and-forget: a worker that is gone
// never installs the snapshot, and a busy worker installs the latest pending
// snapshot once it is free.
package coordinator

/*
 Copyright 2019 - 2025 Crunchy Data Solutions, Inc.
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at
      http://www.apache.org/licenses/LICENSE-2.0
 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tilegarden/postgis-tileserver/internal/data"
)

// Worker receives registry snapshots and installs them into its serving
// state. Installation is atomic with respect to requests: a request that
// started under the old registry finishes under it.
type Worker struct {
	name    string
	inbox   chan data.Sources
	install func(data.Sources)
	done    chan struct{}
	once    sync.Once
}

// NewWorker creates a worker that applies snapshots with install.
func NewWorker(name string, install func(data.Sources)) *Worker {
	return &Worker{
		name:    name,
		inbox:   make(chan data.Sources, 1),
		install: install,
		done:    make(chan struct{}),
	}
}

// Run consumes snapshots until Stop. Each worker gets its own deep copy of
// the registry, so workers never share mutable state.
func (w *Worker) Run() {
	for {
		select {
		case sources := <-w.inbox:
			w.install(sources.Clone())
			log.Infof("Worker %s installed %d sources", w.name, len(sources))
		case <-w.done:
			return
		}
	}
}

// Stop terminates Run. Snapshots sent after Stop are dropped silently.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.done) })
}

// Coordinator keeps the worker registry. Workers are never evicted; sends
// to stopped workers fail silently.
type Coordinator struct {
	mu      sync.Mutex
	workers []*Worker
}

// New creates an empty coordinator.
func New() *Coordinator {
	log.Info("Starting refresh coordinator")
	return &Coordinator{}
}

// Connect registers a worker and echoes its handle back.
func (c *Coordinator) Connect(w *Worker) *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	log.Infof("Worker %s connected", w.name)
	c.workers = append(c.workers, w)
	return w
}

// RefreshSources broadcasts a new registry snapshot to every registered
// worker without blocking. A pending older snapshot is replaced, so a slow
// worker always installs the latest registry next.
func (c *Coordinator) RefreshSources(sources data.Sources) {
	c.mu.Lock()
	workers := make([]*Worker, len(c.workers))
	copy(workers, c.workers)
	c.mu.Unlock()

	for _, w := range workers {
		select {
		case <-w.inbox:
		default:
		}
		select {
		case w.inbox <- sources:
		default:
		}
	}
}
