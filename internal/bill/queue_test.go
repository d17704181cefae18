package bill

import (
	"context"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Queue", func() {
	var (
		mu      sync.Mutex
		handled []string
		handler JobHandler
		queue   *Queue
	)

	BeforeEach(func() {
		handled = nil
		handler = func(ctx context.Context, job Job) {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, job.BillID)
		}
	})

	AfterEach(func() {
		Expect(queue.Stop()).To(Succeed())
	})

	It("should run every submitted job", func() {
		queue = NewQueue(3, 10, handler)
		queue.Start(context.Background())

		for _, id := range []string{"a", "b", "c", "d", "e"} {
			Expect(queue.Submit(Job{BillID: id})).To(Succeed())
		}
		queue.Wait()

		mu.Lock()
		defer mu.Unlock()
		Expect(handled).To(ConsistOf("a", "b", "c", "d", "e"))
	})

	It("should refuse jobs beyond the buffer without blocking", func() {
		queue = NewQueue(1, 2, handler)

		Expect(queue.Submit(Job{BillID: "a"})).To(Succeed())
		Expect(queue.Submit(Job{BillID: "b"})).To(Succeed())
		Expect(queue.Submit(Job{BillID: "c"})).To(MatchError(ErrQueueFull))
	})

	It("should drain buffered jobs on Stop", func() {
		queue = NewQueue(1, 4, handler)
		Expect(queue.Submit(Job{BillID: "a"})).To(Succeed())
		Expect(queue.Submit(Job{BillID: "b"})).To(Succeed())

		queue.Start(context.Background())
		Expect(queue.Stop()).To(Succeed())

		mu.Lock()
		defer mu.Unlock()
		Expect(handled).To(Equal([]string{"a", "b"}))
	})

	It("should release waiters when stopped before starting", func() {
		queue = NewQueue(1, 4, handler)
		Expect(queue.Submit(Job{BillID: "a"})).To(Succeed())
		Expect(queue.Submit(Job{BillID: "b"})).To(Succeed())
		Expect(queue.Stop()).To(Succeed())

		done := make(chan struct{})
		go func() {
			queue.Wait()
			close(done)
		}()
		Eventually(done).Should(BeClosed())

		mu.Lock()
		defer mu.Unlock()
		Expect(handled).To(BeEmpty())
	})

	It("should refuse jobs after Stop", func() {
		queue = NewQueue(1, 1, handler)
		queue.Start(context.Background())
		Expect(queue.Stop()).To(Succeed())

		Expect(queue.Submit(Job{BillID: "a"})).To(MatchError(ErrQueueClosed))
	})

	It("should survive a panicking job", func() {
		var calls atomic.Int32
		queue = NewQueue(1, 4, func(ctx context.Context, job Job) {
			calls.Add(1)
			if job.BillID == "bad" {
				panic("boom")
			}
		})
		queue.Start(context.Background())

		Expect(queue.Submit(Job{BillID: "bad"})).To(Succeed())
		Expect(queue.Submit(Job{BillID: "good"})).To(Succeed())
		queue.Wait()

		Expect(calls.Load()).To(Equal(int32(2)))
	})

	It("should hand the start context to jobs", func() {
		type key struct{}
		var got atomic.Value
		queue = NewQueue(1, 1, func(ctx context.Context, job Job) {
			got.Store(ctx.Value(key{}))
		})
		queue.Start(context.WithValue(context.Background(), key{}, "marker"))

		Expect(queue.Submit(Job{BillID: "a"})).To(Succeed())
		queue.Wait()
		Expect(got.Load()).To(Equal("marker"))
	})
})

var _ = Describe("keyedMutex", func() {
	It("should serialize holders of one key and drop idle entries", func() {
		locks := newKeyedMutex()
		var (
			wg      sync.WaitGroup
			active  atomic.Int32
			maxSeen atomic.Int32
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locks.Lock("item-1")
				n := active.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				active.Add(-1)
				unlock()
			}()
		}
		wg.Wait()

		Expect(maxSeen.Load()).To(Equal(int32(1)))
		Expect(locks.size()).To(BeZero())
	})

	It("should not block different keys", func() {
		locks := newKeyedMutex()
		unlockA := locks.Lock("a")
		unlockB := locks.Lock("b")
		Expect(locks.size()).To(Equal(2))
		unlockA()
		unlockB()
		Expect(locks.size()).To(BeZero())
	})
})
