package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWriter_RunsInSubmissionOrder(t *testing.T) {
	w := newWriter(zerolog.Nop(), 4)
	defer w.close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 20; i++ {
		i := i
		if err := w.submit(writeJob{name: "op", run: func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	w.wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 20 {
		t.Fatalf("expected 20 jobs run, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("expected job %d at position %d, got %v", i, i, got)
		}
	}
}

func TestWriter_WaitWithNothingPending(t *testing.T) {
	w := newWriter(zerolog.Nop(), 1)
	defer w.close()

	done := make(chan struct{})
	go func() {
		w.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wait blocked on an empty queue")
	}
}

func TestWriter_ConcurrentSubmitAndWait(t *testing.T) {
	w := newWriter(zerolog.Nop(), 2)
	defer w.close()

	var finished atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				var ran atomic.Bool
				if err := w.submit(writeJob{
					name: "op",
					run:  func(context.Context) error { return nil },
					done: func(error) {
						ran.Store(true)
						finished.Add(1)
					},
				}); err != nil {
					t.Errorf("submit: %v", err)
					return
				}
				w.wait()
				if !ran.Load() {
					t.Error("wait returned before the job submitted ahead of it finished")
					return
				}
			}
		}()
	}
	wg.Wait()

	if n := finished.Load(); n != 200 {
		t.Errorf("expected 200 jobs finished, got %d", n)
	}
}

func TestWriter_ReportsFailuresAndRejectsAfterClose(t *testing.T) {
	w := newWriter(zerolog.Nop(), 1)

	var got error
	_ = w.submit(writeJob{
		name: "op",
		run:  func(context.Context) error { return errors.New("offline") },
		done: func(err error) { got = err },
	})
	w.wait()
	if got == nil || got.Error() != "offline" {
		t.Errorf("expected failure passed to done, got %v", got)
	}

	w.close()
	w.close()
	if err := w.submit(writeJob{name: "late", run: func(context.Context) error { return nil }}); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}
