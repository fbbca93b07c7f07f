// Copyright 2025 The fawa Authors
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

// Package upscale runs the decode, resize, sharpen and encode pipeline on
// a small set of long-lived worker goroutines. Callers hand a Request to
// the engine and wait on a per-request result channel.
package upscale

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/fawa-io/coverup/pkg/fwlog"
	"github.com/fawa-io/coverup/pkg/imaging"
)

var (
	ErrDecode       = errors.New("upscale: decode failed")
	ErrWorker       = errors.New("upscale: worker failure")
	ErrFetch        = errors.New("upscale: fetch failed")
	ErrEncode       = errors.New("upscale: encode failed")
	ErrInvalidScale = errors.New("upscale: invalid scale")
	ErrTimeout      = errors.New("upscale: timed out")
	ErrClosed       = errors.New("upscale: engine closed")
	ErrInFlight     = errors.New("upscale: caller already has a request in flight")
)

const (
	DefaultWorkers        = 1
	DefaultTimeout        = 2 * time.Minute
	DefaultMaxSourceBytes = 20 << 20
	queueDepth            = 64
)

// Request is one unit of work. Source takes precedence over SourceURL.
// Caller, when set, limits that caller to one request at a time.
type Request struct {
	SourceURL string
	Source    []byte
	Scale     int
	Caller    string
}

// Result carries either the encoded PNG or a failure message, never both.
type Result struct {
	Success    bool   `json:"success"`
	ImageBytes []byte `json:"imageBytes,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Error      string `json:"error,omitempty"`

	err error
}

func succeed(data []byte, w, h int) Result {
	return Result{Success: true, ImageBytes: data, Width: w, Height: h}
}

func fail(err error) Result {
	return Result{Error: err.Error(), err: err}
}

// Err returns nil for a successful result and the failure cause otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return errors.New(r.Error)
}

type Options struct {
	Workers        int
	Timeout        time.Duration
	MaxSourceBytes int64
	HTTPClient     *http.Client
	Logger         fwlog.Logger
}

type job struct {
	id    string
	req   Request
	reply chan Result
}

// Engine owns the worker goroutines. They are started by the first
// submission and stopped by Close.
type Engine struct {
	timeout time.Duration
	workerN int
	log     fwlog.Logger
	fetcher *Fetcher
	pipe    func(ctx context.Context, req Request) Result

	start   sync.Once
	jobs    chan job
	workers *pool.Pool

	mu     sync.RWMutex
	closed bool

	flightMu sync.Mutex
	inflight map[string]struct{}
}

func New(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxSourceBytes <= 0 {
		opts.MaxSourceBytes = DefaultMaxSourceBytes
	}
	if opts.Logger == nil {
		opts.Logger = fwlog.With("component", "upscale")
	}
	e := &Engine{
		timeout:  opts.Timeout,
		workerN:  opts.Workers,
		log:      opts.Logger,
		fetcher:  &Fetcher{Client: opts.HTTPClient, MaxBytes: opts.MaxSourceBytes},
		inflight: make(map[string]struct{}),
	}
	e.pipe = e.process
	return e
}

func (e *Engine) spawn() {
	e.jobs = make(chan job, queueDepth)
	e.workers = pool.New().WithMaxGoroutines(e.workerN)
	for i := 0; i < e.workerN; i++ {
		e.workers.Go(e.work)
	}
	e.log.Infof("upscale engine started with %d worker(s)", e.workerN)
}

// Submit queues req and returns a channel that receives exactly one Result.
// A cancelled ctx only abandons the enqueue; once queued the job runs to
// completion even if nobody reads the result.
func (e *Engine) Submit(ctx context.Context, req Request) <-chan Result {
	reply := make(chan Result, 1)

	if req.Caller != "" && !e.takeoff(req.Caller) {
		reply <- fail(fmt.Errorf("%w: %s", ErrInFlight, req.Caller))
		return reply
	}

	e.start.Do(e.spawn)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.land(req.Caller)
		reply <- fail(ErrClosed)
		return reply
	}

	j := job{id: uuid.NewString(), req: req, reply: reply}
	select {
	case e.jobs <- j:
	case <-ctx.Done():
		e.land(req.Caller)
		reply <- fail(fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()))
	}
	return reply
}

// Upscale submits req and waits for its result, bounded by the engine
// timeout and ctx.
func (e *Engine) Upscale(ctx context.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	select {
	case r := <-e.Submit(ctx, req):
		return r
	case <-ctx.Done():
		return fail(fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()))
	}
}

// Close stops accepting work, lets queued jobs finish and waits for the
// workers to exit. It is safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	// Never started: make sure a late Submit cannot start it either.
	e.start.Do(func() {})
	if e.jobs != nil {
		close(e.jobs)
		e.workers.Wait()
		e.log.Info("upscale engine stopped")
	}
}

func (e *Engine) takeoff(caller string) bool {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	if _, busy := e.inflight[caller]; busy {
		return false
	}
	e.inflight[caller] = struct{}{}
	return true
}

func (e *Engine) land(caller string) {
	if caller == "" {
		return
	}
	e.flightMu.Lock()
	delete(e.inflight, caller)
	e.flightMu.Unlock()
}

func (e *Engine) work() {
	for j := range e.jobs {
		r := e.run(j)
		e.land(j.req.Caller)
		j.reply <- r
	}
}

func (e *Engine) run(j job) (res Result) {
	log := e.log.With("request_id", j.id, "scale", j.req.Scale)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	var pc panics.Catcher
	pc.Try(func() { res = e.pipe(ctx, j.req) })
	if rec := pc.Recovered(); rec != nil {
		log.Errorf("upscale worker panic: %v", rec.Value)
		return fail(fmt.Errorf("%w: %v", ErrWorker, rec.Value))
	}

	if res.Success {
		log.Infof("upscaled to %dx%d in %s", res.Width, res.Height, time.Since(start))
	} else {
		log.Warnf("upscale failed: %s", res.Error)
	}
	return res
}

func (e *Engine) process(ctx context.Context, req Request) Result {
	if req.Scale < 1 {
		return fail(fmt.Errorf("%w: %d", ErrInvalidScale, req.Scale))
	}

	data := req.Source
	if len(data) == 0 {
		var err error
		if data, err = e.fetcher.Fetch(ctx, req.SourceURL); err != nil {
			return fail(err)
		}
	}

	src, _, err := imaging.Decode(data)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrDecode, err))
	}
	defer src.Release()

	up, err := imaging.Resize(src, req.Scale)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrInvalidScale, err))
	}
	defer up.Release()

	sharp := imaging.Sharpen(up, imaging.DefaultSharpenAmount)
	defer sharp.Release()

	out, err := imaging.EncodePNG(sharp)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrEncode, err))
	}
	return succeed(out, sharp.Width, sharp.Height)
}
