package reactor

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStatusHolder_FirstTerminationWins(t *testing.T) {
	t.Parallel()

	st := NewStatusHolder()
	first := errors.New("first")
	if !st.RequestTermination(first) {
		t.Fatalf("first RequestTermination should be retained")
	}
	if st.RequestTermination(errors.New("second")) {
		t.Fatalf("second RequestTermination should be a no-op")
	}
	state, err := st.State()
	if state != StateTerminating || !errors.Is(err, first) {
		t.Fatalf("State() = %v, %v", state, err)
	}
	if !st.claim() {
		t.Fatalf("claim() should succeed once")
	}
	if st.claim() {
		t.Fatalf("claim() should not succeed twice")
	}
	st.finish(err)
	select {
	case <-st.Done():
	default:
		t.Fatalf("Done() not closed after finish")
	}
	if !errors.Is(st.Err(), first) {
		t.Fatalf("Err() = %v", st.Err())
	}
}

type sliceSender[T any] struct {
	mu   sync.Mutex
	sent []T
	err  error
}

func (s *sliceSender[T]) Send(v *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, *v)
	return nil
}

type sliceReceiver[T any] struct {
	items []T
	err   error
}

func (s *sliceReceiver[T]) Recv() (*T, error) {
	if len(s.items) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	v := s.items[0]
	s.items = s.items[1:]
	return &v, nil
}

type countingWriter struct {
	Base
	limit       int
	n           int
	failAt      int
	terminateFn func(cause error) error
	validateErr error
	doneCalls   atomic.Int64
	terminated  error
}

func (w *countingWriter) WriteResponse(_ context.Context, resp *int) (bool, error) {
	if w.failAt > 0 && w.n == w.failAt {
		return false, errors.New("boom")
	}
	if w.n == w.limit {
		return true, nil
	}
	w.n++
	*resp = w.n
	return false, nil
}

func (w *countingWriter) OnTerminate(_ context.Context, cause error) error {
	w.terminated = cause
	if w.terminateFn != nil {
		return w.terminateFn(cause)
	}
	return nil
}

func (w *countingWriter) Validate() error { return w.validateErr }
func (w *countingWriter) OnDone()         { w.doneCalls.Add(1) }

func TestRunWriter(t *testing.T) {
	t.Parallel()

	cleanupErr := errors.New("cleanup")
	invalid := errors.New("invalid")

	tests := []struct {
		name     string
		writer   *countingWriter
		wantSent int
		wantErr  string
	}{
		{name: "completes", writer: &countingWriter{limit: 3}, wantSent: 3},
		{name: "handler error stops loop", writer: &countingWriter{limit: 5, failAt: 2}, wantSent: 2, wantErr: "boom"},
		{name: "validation fails success", writer: &countingWriter{limit: 1, validateErr: invalid}, wantSent: 1, wantErr: "invalid"},
		{
			name: "cleanup failure surfaces without earlier error",
			writer: &countingWriter{limit: 1, terminateFn: func(error) error {
				return cleanupErr
			}},
			wantSent: 1,
			wantErr:  "cleanup",
		},
		{
			name: "earlier error beats cleanup failure",
			writer: &countingWriter{limit: 5, failAt: 1, validateErr: invalid, terminateFn: func(error) error {
				return cleanupErr
			}},
			wantSent: 1,
			wantErr:  "boom",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := &sliceSender[int]{}
			err := RunWriter[int](context.Background(), out, tc.writer)
			if tc.wantErr == "" && err != nil {
				t.Fatalf("RunWriter() error = %v", err)
			}
			if tc.wantErr != "" && (err == nil || err.Error() != tc.wantErr) {
				t.Fatalf("RunWriter() error = %v, want %q", err, tc.wantErr)
			}
			if len(out.sent) != tc.wantSent {
				t.Fatalf("sent = %v, want %d items", out.sent, tc.wantSent)
			}
			if got := tc.writer.doneCalls.Load(); got != 1 {
				t.Fatalf("OnDone calls = %d, want 1", got)
			}
			state, _ := tc.writer.Status().State()
			if state != StateDone {
				t.Fatalf("state = %v, want done", state)
			}
		})
	}
}

func TestRunWriter_SendFailureIsWriteError(t *testing.T) {
	t.Parallel()

	w := &countingWriter{limit: 3}
	err := RunWriter[int](context.Background(), &sliceSender[int]{err: errors.New("gone")}, w)
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("RunWriter() error = %v, want ErrWrite", err)
	}
	if !errors.Is(w.terminated, ErrWrite) {
		t.Fatalf("OnTerminate cause = %v", w.terminated)
	}
}

func TestRunWriter_ExternalTermination(t *testing.T) {
	t.Parallel()

	external := errors.New("nested stream failed")
	w := &countingWriter{limit: 10}
	w.Status().RequestTermination(external)

	out := &sliceSender[int]{}
	err := RunWriter[int](context.Background(), out, w)
	if !errors.Is(err, external) {
		t.Fatalf("RunWriter() error = %v", err)
	}
	if len(out.sent) != 0 {
		t.Fatalf("sent %v after termination", out.sent)
	}
}

type panickyWriter struct {
	Base
}

func (p *panickyWriter) WriteResponse(context.Context, *int) (bool, error) {
	panic("bad state")
}

func TestRunWriter_RecoversPanic(t *testing.T) {
	t.Parallel()

	err := RunWriter[int](context.Background(), &sliceSender[int]{}, &panickyWriter{})
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("RunWriter() error = %v, want ErrPanic", err)
	}
}

type collectingReader struct {
	Base
	got       []string
	rejectOn  string
	initErr   error
	doneCalls int
}

func (r *collectingReader) Initialize(context.Context) error { return r.initErr }

func (r *collectingReader) ReadRequest(_ context.Context, req *string) (bool, error) {
	if *req == r.rejectOn {
		return false, errors.New("rejected " + *req)
	}
	r.got = append(r.got, *req)
	return false, nil
}

func (r *collectingReader) OnDone() { r.doneCalls++ }

func TestRunReader(t *testing.T) {
	t.Parallel()

	t.Run("reads until EOF", func(t *testing.T) {
		t.Parallel()
		r := &collectingReader{}
		err := RunReader[string](context.Background(), &sliceReceiver[string]{items: []string{"a", "b"}}, r)
		if err != nil {
			t.Fatalf("RunReader() error = %v", err)
		}
		if len(r.got) != 2 || r.doneCalls != 1 {
			t.Fatalf("got = %v, done calls = %d", r.got, r.doneCalls)
		}
	})

	t.Run("handler error", func(t *testing.T) {
		t.Parallel()
		r := &collectingReader{rejectOn: "b"}
		err := RunReader[string](context.Background(), &sliceReceiver[string]{items: []string{"a", "b", "c"}}, r)
		if err == nil || err.Error() != "rejected b" {
			t.Fatalf("RunReader() error = %v", err)
		}
		if len(r.got) != 1 {
			t.Fatalf("got = %v", r.got)
		}
	})

	t.Run("receive error", func(t *testing.T) {
		t.Parallel()
		r := &collectingReader{}
		err := RunReader[string](context.Background(), &sliceReceiver[string]{err: errors.New("reset")}, r)
		if !errors.Is(err, ErrRead) {
			t.Fatalf("RunReader() error = %v, want ErrRead", err)
		}
	})

	t.Run("initialize error", func(t *testing.T) {
		t.Parallel()
		initErr := errors.New("no such backup")
		r := &collectingReader{initErr: initErr}
		err := RunReader[string](context.Background(), &sliceReceiver[string]{items: []string{"a"}}, r)
		if !errors.Is(err, initErr) || len(r.got) != 0 || r.doneCalls != 1 {
			t.Fatalf("RunReader() error = %v, got = %v, done = %d", err, r.got, r.doneCalls)
		}
	})
}

// chanDuplex is an in-memory bidirectional stream.
type chanDuplex struct {
	in  chan string
	out chan int
}

func (d *chanDuplex) Recv() (*string, error) {
	v, ok := <-d.in
	if !ok {
		return nil, io.EOF
	}
	return &v, nil
}

func (d *chanDuplex) Send(v *int) error {
	d.out <- *v
	return nil
}

// echoLengths answers every request with its length and stops after the
// peer half-closes.
type echoLengths struct {
	Base
	pending   chan int
	readsDone chan struct{}
	rejectOn  string
	doneCalls atomic.Int64
}

func newEchoLengths() *echoLengths {
	return &echoLengths{pending: make(chan int, 8), readsDone: make(chan struct{})}
}

func (e *echoLengths) ReadRequest(ctx context.Context, req *string) (bool, error) {
	if *req == e.rejectOn {
		return false, errors.New("rejected")
	}
	select {
	case e.pending <- len(*req):
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (e *echoLengths) WriteResponse(ctx context.Context, resp *int) (bool, error) {
	select {
	case n := <-e.pending:
		*resp = n
		return false, nil
	case <-e.readsDone:
		select {
		case n := <-e.pending:
			*resp = n
			return false, nil
		default:
			return true, nil
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (e *echoLengths) OnReadsDone() { close(e.readsDone) }
func (e *echoLengths) OnDone()      { e.doneCalls.Add(1) }

func TestRunBidi_EchoesUntilHalfClose(t *testing.T) {
	t.Parallel()

	d := &chanDuplex{in: make(chan string), out: make(chan int, 8)}
	e := newEchoLengths()
	errc := make(chan error, 1)
	go func() { errc <- RunBidi[string, int](context.Background(), d, e) }()

	d.in <- "a"
	d.in <- "abc"
	close(d.in)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("RunBidi() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunBidi did not finish")
	}
	close(d.out)
	var got []int
	for n := range d.out {
		got = append(got, n)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("responses = %v", got)
	}
	if e.doneCalls.Load() != 1 {
		t.Fatalf("OnDone calls = %d", e.doneCalls.Load())
	}
}

func TestRunBidi_ReaderErrorTerminates(t *testing.T) {
	t.Parallel()

	d := &chanDuplex{in: make(chan string, 2), out: make(chan int, 8)}
	e := newEchoLengths()
	e.rejectOn = "bad"
	d.in <- "bad"

	errc := make(chan error, 1)
	go func() { errc <- RunBidi[string, int](context.Background(), d, e) }()

	select {
	case err := <-errc:
		if err == nil || err.Error() != "rejected" {
			t.Fatalf("RunBidi() error = %v, want rejected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunBidi did not finish")
	}
}

func TestBridge(t *testing.T) {
	t.Parallel()

	b := NewBridge(2)
	ctx := context.Background()
	if err := b.Push(ctx, []byte("a")); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := b.Push(ctx, []byte("b")); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if b.Pending() != 2 {
		t.Fatalf("Pending() = %d", b.Pending())
	}

	// Full queue blocks the producer until ctx ends.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := b.Push(short, []byte("c")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Push() on full bridge error = %v", err)
	}

	chunk, err := b.Pop(ctx)
	if err != nil || string(chunk) != "a" {
		t.Fatalf("Pop() = %q, %v", chunk, err)
	}

	b.Close()
	// Queued data remains readable after Close.
	chunk, err = b.Pop(ctx)
	if err != nil || string(chunk) != "b" {
		t.Fatalf("Pop() after close = %q, %v", chunk, err)
	}
	if _, err := b.Pop(ctx); !errors.Is(err, ErrBridgeClosed) {
		t.Fatalf("Pop() on drained closed bridge error = %v", err)
	}
	if err := b.Push(ctx, nil); !errors.Is(err, ErrBridgeClosed) {
		t.Fatalf("Push() on closed bridge error = %v", err)
	}
}

func TestBridge_ProducerUnblocksOnClose(t *testing.T) {
	t.Parallel()

	b := NewBridge(1)
	if err := b.Push(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- b.Push(context.Background(), []byte("y")) }()
	time.Sleep(10 * time.Millisecond)
	b.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrBridgeClosed) {
			t.Fatalf("Push() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked producer not released by Close")
	}
}
