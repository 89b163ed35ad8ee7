package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"

	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/metrics"
)

// Sink pushes one rule operation to a fabric node
type Sink interface {
	Apply(ctx context.Context, install bool, rule FlowRule) error
}

// ExecutorOptions configures an AsyncExecutor
type ExecutorOptions struct {
	// MaxRequeues is how many times a failing operation goes back to the
	// queue before it is dropped
	// Default: 5
	MaxRequeues int

	// RetryInterval is the initial interval of the in-place retry
	// Default: 100ms
	RetryInterval time.Duration

	// MaxRetries bounds the in-place retries of one attempt
	// Default: 3
	MaxRetries uint64

	Logger *logging.Logger
}

type pendingOp struct {
	install bool
	rule    FlowRule
}

// AsyncExecutor queues rule operations and applies them to a Sink from
// worker goroutines. Operations on the same rule are coalesced: only the
// latest one is applied. A failing operation is retried in place with
// exponential backoff, then requeued with rate limiting.
//
// Thread Safety: All methods are thread-safe.
type AsyncExecutor struct {
	sink  Sink
	queue workqueue.RateLimitingInterface
	opts  ExecutorOptions

	mu      sync.Mutex
	pending map[string]pendingOp

	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger *logging.Logger
}

// NewAsyncExecutor creates an executor applying rules to sink
func NewAsyncExecutor(sink Sink, opts ExecutorOptions) *AsyncExecutor {
	if opts.MaxRequeues <= 0 {
		opts.MaxRequeues = 5
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.LoggerForComponent("executor")
	}
	return &AsyncExecutor{
		sink: sink,
		queue: workqueue.NewRateLimitingQueueWithConfig(
			workqueue.DefaultControllerRateLimiter(),
			workqueue.RateLimitingQueueConfig{Name: "flow-rules"},
		),
		opts:    opts,
		pending: make(map[string]pendingOp),
		logger:  logger,
	}
}

// ProcessFlowRule queues a rule operation and returns immediately
func (e *AsyncExecutor) ProcessFlowRule(install bool, rule FlowRule) {
	key := rule.Key()
	e.mu.Lock()
	e.pending[key] = pendingOp{install: install, rule: rule}
	e.mu.Unlock()

	metrics.RecordFlowRule(rule.Table, install)
	e.queue.Add(key)
	metrics.SetExecutorQueueDepth(e.queue.Len())
}

// Start launches workers that run until ctx is done or ShutDown is called
func (e *AsyncExecutor) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			wait.UntilWithContext(ctx, e.runWorker, time.Second)
		}()
	}
	go func() {
		<-ctx.Done()
		e.queue.ShutDown()
	}()
	e.logger.Info("Flow rule executor started", "workers", workers)
}

// ShutDown waits for queued operations to be applied, then stops the
// workers. Call it only after Start.
func (e *AsyncExecutor) ShutDown() {
	e.queue.ShutDownWithDrain()
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Len returns the number of queued operations
func (e *AsyncExecutor) Len() int {
	return e.queue.Len()
}

func (e *AsyncExecutor) runWorker(ctx context.Context) {
	for e.processNextItem(ctx) {
	}
}

func (e *AsyncExecutor) processNextItem(ctx context.Context) bool {
	item, quit := e.queue.Get()
	if quit {
		return false
	}
	defer e.queue.Done(item)
	defer func() { metrics.SetExecutorQueueDepth(e.queue.Len()) }()

	key := item.(string)
	e.mu.Lock()
	op, ok := e.pending[key]
	e.mu.Unlock()
	if !ok {
		e.queue.Forget(item)
		return true
	}

	err := e.applyWithRetry(ctx, op)
	switch {
	case err == nil:
		e.clearPending(key, op)
		e.queue.Forget(item)
		metrics.RecordFlowRuleApply(metrics.ResultSuccess)
	case e.queue.NumRequeues(item) < e.opts.MaxRequeues:
		e.logger.V(1).Info("Flow rule failed, requeueing", "rule", key, "error", err.Error())
		e.queue.AddRateLimited(item)
		metrics.RecordFlowRuleApply(metrics.ResultRequeue)
	default:
		e.logger.Error(err, "Dropping flow rule after retries", "rule", key, "install", op.install)
		e.clearPending(key, op)
		e.queue.Forget(item)
		metrics.RecordFlowRuleApply(metrics.ResultFailure)
		utilruntime.HandleError(fmt.Errorf("flow rule %s: %w", key, err))
	}
	return true
}

// clearPending drops the pending entry unless a newer operation replaced it
func (e *AsyncExecutor) clearPending(key string, applied pendingOp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.pending[key]; ok && cur.install == applied.install && cur.rule.Treatment.String() == applied.rule.Treatment.String() {
		delete(e.pending, key)
	}
}

func (e *AsyncExecutor) applyWithRetry(ctx context.Context, op pendingOp) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, e.opts.MaxRetries), ctx)
	return backoff.Retry(func() error {
		return e.sink.Apply(ctx, op.install, op.rule)
	}, policy)
}
