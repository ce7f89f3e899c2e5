package sempool

import "sync"

// NewSemaphore returns a semaphore admitting capacity concurrent holders.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{inner: make(chan struct{}, capacity)}
}

// Semaphore bounds concurrent access to a resource.
type Semaphore struct {
	inner chan struct{}
}

func (s *Semaphore) Acquire() {
	s.inner <- struct{}{}
}

func (s *Semaphore) TryAcquire() bool {
	select {
	case s.inner <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Semaphore) Release() {
	select {
	case <-s.inner:
	default:
		panic("semaphore inconsistency: release before acquire!")
	}
}

// NewSemaphorePool returns a pool of keyed semaphores, each with capacity
// semaCap. Semaphores are created on first use of a key.
func NewSemaphorePool(semaCap int) *SemaphorePool {
	return &SemaphorePool{ss: make(map[string]*Semaphore), semaCap: semaCap}
}

// SemaphorePool hands out one semaphore per key, so callers can serialize
// work per key without coordinating ahead of time.
type SemaphorePool struct {
	ss      map[string]*Semaphore
	semaCap int
	mu      sync.Mutex
}

// Get returns the semaphore for key, creating it if needed.
func (p *SemaphorePool) Get(key string) *Semaphore {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, exist := p.ss[key]
	if !exist {
		s = NewSemaphore(p.semaCap)
		p.ss[key] = s
	}
	return s
}

// Stop acquires and holds every semaphore in the pool, blocking until all
// in-flight holders release.
func (p *SemaphorePool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.ss {
		s.Acquire()
	}
}
