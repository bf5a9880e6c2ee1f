// Copyright 2025 Karthala Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webfence

import (
	"context"
	"sync"
)

// workerPool runs fetch tasks on a fixed number of goroutines. It backs
// the opt-in concurrent dispatch mode; with Parallelism 1 the driver
// never constructs one and stays strictly sequential.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	ctx   context.Context
}

// newWorkerPool starts maxWorkers goroutines consuming from an unbuffered
// task channel, so submit blocks until a worker is free. Blocking submit
// keeps at most maxWorkers fetches in flight per round.
func newWorkerPool(ctx context.Context, maxWorkers int) *workerPool {
	wp := &workerPool{
		tasks: make(chan func()),
		ctx:   ctx,
	}
	for i := 0; i < maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
	return wp
}

func (wp *workerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case task, ok := <-wp.tasks:
			if !ok {
				return
			}
			task()
		case <-wp.ctx.Done():
			return
		}
	}
}

// submit hands one task to the pool, blocking until a worker accepts it
// or the context is cancelled.
func (wp *workerPool) submit(task func()) error {
	select {
	case wp.tasks <- task:
		return nil
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	}
}

// close stops accepting tasks and waits for the workers to drain.
func (wp *workerPool) close() {
	close(wp.tasks)
	wp.wg.Wait()
}
