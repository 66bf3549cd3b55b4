// Package pipeline wires a Kubernetes Node watch to a per-node work queue
// and a bounded worker pool (spec §4.5/§5): the classic informer +
// workqueue controller pattern, grounded in the same shape as
// client-go's sample controllers and the GCP cloud-provider's node
// annotator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	goruntime "runtime"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sruntime "k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	corelisters "k8s.io/client-go/listers/core/v1"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/util/workqueue"

	"github.com/spotshield/taint-controller/internal/reconciler"
)

// ReconcileFunc converges the named node toward its desired state.
// *reconciler.Reconciler.Reconcile has this shape.
type ReconcileFunc func(ctx context.Context, name string) error

// HealthRecorder observes the watch subscription's list/watch outcomes.
// internal/health.Monitor implements this.
type HealthRecorder interface {
	RecordSuccess()
	RecordFailure()
}

const (
	defaultResync           = 10 * time.Minute
	backoffBaseDelay         = time.Second
	backoffMaxDelay          = 30 * time.Second
	defaultShutdownGraceTime = 30 * time.Second
)

// Pipeline subscribes to the cluster's node collection and dispatches
// per-node reconciliations, collapsing bursts of events for the same
// node into a single pending reconcile (spec §4.5).
type Pipeline struct {
	queue     workqueue.TypedRateLimitingInterface[string]
	informer  cache.SharedIndexInformer
	reconcile ReconcileFunc
	workers   int
}

// Options configures a Pipeline. Zero values fall back to the spec's
// defaults: worker count = logical CPU count, resync = 10 minutes.
type Options struct {
	Workers int
	Resync  time.Duration
	Health  HealthRecorder
}

// New builds a Pipeline watching the cluster's nodes collection through
// clientset. The informer's local cache (exposed via Lister) is the
// "local cache" that internal/reconciler reads from.
func New(clientset kubernetes.Interface, reconcile ReconcileFunc, opts Options) *Pipeline {
	workers := opts.Workers
	if workers <= 0 {
		workers = goruntime.NumCPU()
	}
	resync := opts.Resync
	if resync <= 0 {
		resync = defaultResync
	}

	lw := &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (k8sruntime.Object, error) {
			list, err := clientset.CoreV1().Nodes().List(context.Background(), options)
			recordHealth(opts.Health, err)
			return list, err
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			w, err := clientset.CoreV1().Nodes().Watch(context.Background(), options)
			recordHealth(opts.Health, err)
			return w, err
		},
	}

	informer := cache.NewSharedIndexInformer(lw, &corev1.Node{}, resync, cache.Indexers{
		cache.NamespaceIndex: cache.MetaNamespaceIndexFunc,
	})

	rateLimiter := fullJitter(workqueue.NewTypedItemExponentialFailureRateLimiter[string](backoffBaseDelay, backoffMaxDelay))
	queue := workqueue.NewTypedRateLimitingQueue[string](rateLimiter)

	p := &Pipeline{queue: queue, informer: informer, reconcile: reconcile, workers: workers}

	informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    p.enqueue,
		UpdateFunc: func(_, newObj interface{}) { p.enqueue(newObj) },
		DeleteFunc: p.enqueue,
	})

	return p
}

func recordHealth(h HealthRecorder, err error) {
	if h == nil {
		return
	}
	if err != nil {
		h.RecordFailure()
		return
	}
	h.RecordSuccess()
}

func (p *Pipeline) enqueue(obj interface{}) {
	key, err := cache.DeletionHandlingMetaNamespaceKeyFunc(obj)
	if err != nil {
		utilruntime.HandleError(err)
		return
	}
	p.queue.Add(key)
}

// Lister exposes the informer's local cache as a NodeLister, the read
// side of the reconciler's protocol (spec §4.4 step 1).
func (p *Pipeline) Lister() corelisters.NodeLister {
	return corelisters.NewNodeLister(p.informer.GetIndexer())
}

// Run starts the watch and the worker pool and blocks until ctx is
// cancelled. It waits for the initial cache sync before dispatching any
// work. Once ctx is done, no further events are dispatched; in-flight
// reconciliations get up to gracePeriod to finish before Run returns
// (zero means use the package default).
func (p *Pipeline) Run(ctx context.Context, gracePeriod time.Duration) error {
	defer utilruntime.HandleCrash()

	go p.informer.Run(ctx.Done())

	if !cache.WaitForCacheSync(ctx.Done(), p.informer.HasSynced) {
		return fmt.Errorf("pipeline: timed out waiting for node cache to sync")
	}

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wait.Until(p.runWorker(ctx), time.Second, ctx.Done())
		}()
	}

	<-ctx.Done()
	p.queue.ShutDown()

	if gracePeriod <= 0 {
		gracePeriod = defaultShutdownGraceTime
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(gracePeriod):
	}
	return nil
}

func (p *Pipeline) runWorker(ctx context.Context) func() {
	return func() {
		for p.processNextWorkItem(ctx) {
		}
	}
}

func (p *Pipeline) processNextWorkItem(ctx context.Context) bool {
	key, shutdown := p.queue.Get()
	if shutdown {
		return false
	}
	defer p.queue.Done(key)

	err := p.reconcile(ctx, key)
	switch {
	case err == nil:
		p.queue.Forget(key)
	case errors.Is(err, reconciler.ErrConflict):
		// Conflict: one retry, no backoff, per spec §4.4/§5.
		p.queue.Forget(key)
		p.queue.Add(key)
	case ctx.Err() != nil:
		// Shutting down: drop rather than schedule more work.
		p.queue.Forget(key)
	default:
		utilruntime.HandleError(fmt.Errorf("reconcile %s: %w", key, err))
		p.queue.AddRateLimited(key)
	}
	return true
}

// fullJitter wraps a rate limiter so the delay it returns for each item
// is drawn uniformly from [0, inner delay] rather than being the
// deterministic exponential value itself — spec §5's "full jitter"
// requirement layered on top of the stock limiter's base-1s/factor-2/
// cap-30s doubling.
func fullJitter(inner workqueue.TypedRateLimiter[string]) workqueue.TypedRateLimiter[string] {
	return jitterLimiter{inner: inner}
}

type jitterLimiter struct {
	inner workqueue.TypedRateLimiter[string]
}

func (j jitterLimiter) When(item string) time.Duration {
	d := j.inner.When(item)
	if d <= 0 {
		return d
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

func (j jitterLimiter) Forget(item string) {
	j.inner.Forget(item)
}

func (j jitterLimiter) NumRequeues(item string) int {
	return j.inner.NumRequeues(item)
}
