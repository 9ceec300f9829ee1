package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/elevatelaw/prompt-scaler/internal/work"
)

func double(ctx context.Context, in work.WorkInput[int]) work.WorkOutput[int] {
	return work.WorkOutput[int]{ID: in.ID, Status: work.StatusOk, Data: in.Data * 2}
}

func TestQueue_SubmitAndWait(t *testing.T) {
	q, h := New(2, double, nil)
	defer q.Close()

	out, err := h.SubmitAndWait(context.Background(), work.WorkInput[int]{ID: json.RawMessage(`"1"`), Data: 21})
	if err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
	if out.Data != 42 {
		t.Fatalf("got %d, want 42", out.Data)
	}
}

func TestQueue_SubmitReturnsErrQueueClosed(t *testing.T) {
	q, h := New(1, double, nil)
	q.Close()
	q.Wait()

	if _, err := h.Submit(context.Background(), work.WorkInput[int]{Data: 1}); err != ErrQueueClosed {
		t.Fatalf("got %v, want ErrQueueClosed", err)
	}
}

func TestQueue_RecoversPanic(t *testing.T) {
	panicky := func(ctx context.Context, in work.WorkInput[int]) work.WorkOutput[int] {
		panic("boom")
	}
	q, h := New(1, panicky, nil)
	defer q.Close()

	out, err := h.SubmitAndWait(context.Background(), work.WorkInput[int]{ID: json.RawMessage(`"1"`), Data: 1})
	if err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
	if out.Status != work.StatusFailed {
		t.Fatalf("got status %v, want failed after a recovered panic", out.Status)
	}
}

func TestQueue_ProcessStream_PreservesOrderByDefault(t *testing.T) {
	// Introduce deliberately reversed completion latency so order-preservation
	// is actually exercised: the first item sleeps longest.
	workFn := func(ctx context.Context, in work.WorkInput[int]) work.WorkOutput[int] {
		time.Sleep(time.Duration(5-in.Data) * time.Millisecond)
		return work.WorkOutput[int]{ID: in.ID, Status: work.StatusOk, Data: in.Data}
	}
	q, h := New(5, workFn, nil)
	defer q.Close()

	inputs := make(chan work.WorkInput[int], 5)
	for i := 0; i < 5; i++ {
		inputs <- work.WorkInput[int]{ID: json.RawMessage(fmt.Sprintf(`"%d"`, i)), Data: i}
	}
	close(inputs)

	out := h.ProcessStream(context.Background(), inputs, StreamOpts{})
	var got []int
	for o := range out {
		got = append(got, o.Data)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got order %v, want input order 0..4", got)
		}
	}
}

func TestQueue_ProcessStream_SubmitErrorBecomesFailedOutput(t *testing.T) {
	q, h := New(1, double, nil)
	q.Close()
	q.Wait()

	inputs := make(chan work.WorkInput[int], 1)
	inputs <- work.WorkInput[int]{ID: json.RawMessage(`"1"`), Data: 1}
	close(inputs)

	out := h.ProcessStream(context.Background(), inputs, StreamOpts{})
	o := <-out
	if o.Status != work.StatusFailed {
		t.Fatalf("got status %v, want failed for a closed queue", o.Status)
	}
}

func TestQueue_BoundedConcurrency(t *testing.T) {
	const n = 2
	var mu sync.Mutex
	current, maxObserved := 0, 0

	workFn := func(ctx context.Context, in work.WorkInput[int]) work.WorkOutput[int] {
		mu.Lock()
		current++
		if current > maxObserved {
			maxObserved = current
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return work.WorkOutput[int]{ID: in.ID, Status: work.StatusOk}
	}
	q, h := New(n, workFn, nil)
	defer q.Close()

	var replies []<-chan work.WorkOutput[int]
	for i := 0; i < n*3; i++ {
		reply, err := h.Submit(context.Background(), work.WorkInput[int]{ID: json.RawMessage(fmt.Sprintf(`"%d"`, i))})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		replies = append(replies, reply)
	}
	for _, r := range replies {
		<-r
	}

	mu.Lock()
	defer mu.Unlock()
	if maxObserved > n {
		t.Fatalf("got max concurrent in-flight %d, want <= %d", maxObserved, n)
	}
}
