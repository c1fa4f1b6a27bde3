package diagram

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/draglass/internal/apperr"
)

// State is the lifecycle stage of a render job.
type State string

const (
	StatePending   State = "pending"
	StateRendering State = "rendering"
	StateRendered  State = "rendered"
	StateError     State = "error"
)

// ErrorTitle heads the inline error shown in place of a failed diagram.
const ErrorTitle = "Diagram error"

// Result is the outcome of a render. Failed renders keep the source so the
// view can offer it in a collapsible disclosure.
type Result struct {
	State  State  `json:"state"`
	SVG    string `json:"svg,omitempty"`
	Error  string `json:"error,omitempty"`
	Source string `json:"source,omitempty"`
	Cached bool   `json:"cached,omitempty"`
}

// Job tracks one render request for a widget.
type Job struct {
	WidgetID string

	seq    uint64
	source string
	theme  string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	result    Result
	discarded bool
}

func newJob(widgetID string, seq uint64, source, theme string) *Job {
	return &Job{
		WidgetID: widgetID,
		seq:      seq,
		source:   source,
		theme:    theme,
		cancel:   func() {},
		done:     make(chan struct{}),
		result:   Result{State: StatePending, Source: source},
	}
}

// Done is closed when the job finishes or is discarded.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns a snapshot of the job state.
func (j *Job) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Wait blocks until the job finishes. A job superseded by a newer request
// for the same widget, or cancelled by Close, reports apperr.ErrCancelled.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.discarded {
		return Result{}, apperr.ErrCancelled
	}
	return j.result, nil
}

func (j *Job) setRendering() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result.State == StatePending {
		j.result.State = StateRendering
	}
}

func (j *Job) finish(r Result, discarded bool) {
	j.mu.Lock()
	if !discarded {
		j.result = r
	}
	j.discarded = discarded
	j.mu.Unlock()
	close(j.done)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCache shares c instead of a private cache.
func WithCache(c *Cache) Option {
	return func(p *Pipeline) {
		p.cache = c
	}
}

// WithLogger sets the logger for render failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithTimeout bounds a single renderer call.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithListener registers fn to receive every non-discarded result.
func WithListener(fn func(widgetID string, r Result)) Option {
	return func(p *Pipeline) {
		p.listener = fn
	}
}

// Pipeline schedules diagram renders for the widgets of one view. At most one
// job per widget is live; a new request cancels the previous one and late
// completions of superseded jobs are dropped.
type Pipeline struct {
	renderer Renderer
	cache    *Cache
	logger   *slog.Logger
	timeout  time.Duration
	listener func(string, Result)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	seq    map[string]uint64
	jobs   map[string]*Job
	closed bool
}

// NewPipeline creates a pipeline that renders through r.
func NewPipeline(r Renderer, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		renderer: r,
		ctx:      ctx,
		cancel:   cancel,
		seq:      make(map[string]uint64),
		jobs:     make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = NewCache(DefaultCacheSize)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Cache returns the pipeline's render cache.
func (p *Pipeline) Cache() *Cache { return p.cache }

// Request schedules a render of source for widgetID. A cached render
// completes the job immediately without calling the renderer.
func (p *Pipeline) Request(widgetID, source, theme string) *Job {
	p.mu.Lock()
	p.seq[widgetID]++
	job := newJob(widgetID, p.seq[widgetID], source, theme)
	if prev := p.jobs[widgetID]; prev != nil {
		prev.cancel()
		delete(p.jobs, widgetID)
	}

	if p.closed {
		p.mu.Unlock()
		job.finish(Result{}, true)
		return job
	}

	if svg, ok := p.cache.Get(CacheKey(source, theme)); ok {
		p.mu.Unlock()
		res := Result{State: StateRendered, SVG: svg, Cached: true}
		job.finish(res, false)
		p.notify(widgetID, res)
		return job
	}

	ctx, cancel := context.WithCancel(p.ctx)
	job.cancel = cancel
	p.jobs[widgetID] = job
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx, job)
	return job
}

// Forget cancels any live job for widgetID, as when its widget is destroyed.
func (p *Pipeline) Forget(widgetID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// A cancelled job is never current, so the counter can be dropped.
	delete(p.seq, widgetID)
	if job := p.jobs[widgetID]; job != nil {
		job.cancel()
		delete(p.jobs, widgetID)
	}
}

// Close cancels every live job, waits for them to finish and empties the
// cache. Later requests are discarded immediately.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.cache.Clear()
}

func (p *Pipeline) run(ctx context.Context, job *Job) {
	defer p.wg.Done()
	defer job.cancel()

	job.setRendering()
	res := p.render(ctx, job)

	p.mu.Lock()
	current := ctx.Err() == nil && p.seq[job.WidgetID] == job.seq
	if current {
		delete(p.jobs, job.WidgetID)
		if res.State == StateRendered {
			p.cache.Put(CacheKey(job.source, job.theme), res.SVG)
		}
	}
	p.mu.Unlock()

	job.finish(res, !current)
	if current {
		p.notify(job.WidgetID, res)
	}
}

func (p *Pipeline) render(ctx context.Context, job *Job) Result {
	if ctx.Err() != nil {
		return Result{}
	}
	renderCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	svg, err := p.renderer.Render(renderCtx, job.source, job.theme)
	if err == nil {
		svg, err = Sanitize(svg)
	}
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("diagram render failed",
				slog.String("widget", job.WidgetID),
				slog.String("error", err.Error()))
		}
		return Result{State: StateError, Error: err.Error(), Source: job.source}
	}
	return Result{State: StateRendered, SVG: svg}
}

func (p *Pipeline) notify(widgetID string, r Result) {
	if p.listener != nil {
		p.listener(widgetID, r)
	}
}
