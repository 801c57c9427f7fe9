package fn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	if v, err := r.Unwrap(); v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
	if e.UnwrapOr(9) != 9 || r.UnwrapOr(9) != 42 {
		t.Fatal("UnwrapOr")
	}
}

func TestFromPair(t *testing.T) {
	if FromPair(1, nil).IsErr() {
		t.Fatal("nil error should be ok")
	}
	if FromPair(1, errors.New("x")).IsOk() {
		t.Fatal("error should be err")
	}
}

func TestThenShortCircuits(t *testing.T) {
	called := false
	fail := Stage[int, int](func(context.Context, int) Result[int] { return Err[int](errors.New("boom")) })
	next := Stage[int, string](func(context.Context, int) Result[string] { called = true; return Ok("x") })

	r := Then(fail, next)(context.Background(), 1)
	if r.IsOk() || called {
		t.Fatal("second stage must not run after failure")
	}
}

func TestThenStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := Stage[int, int](func(context.Context, int) Result[int] { cancel(); return Ok(1) })
	second := Stage[int, int](func(context.Context, int) Result[int] { t.Fatal("should not run"); return Ok(0) })
	_, err := Then(first, second)(ctx, 0).Unwrap()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLiftAndTraced(t *testing.T) {
	double := Lift(func(_ context.Context, n int) (int, error) { return n * 2, nil })
	v, err := TracedStage("double", Then(double, double))(context.Background(), 3).Unwrap()
	if err != nil || v != 12 {
		t.Fatalf("got %d, %v", v, err)
	}

	failing := TracedStage("fail", Lift(func(context.Context, int) (int, error) { return 0, errors.New("x") }))
	if failing(context.Background(), 1).IsOk() {
		t.Fatal("expected error")
	}
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(context.Context) Result[string] {
		attempts++
		if attempts < 3 {
			return Err[string](errors.New("not yet"))
		}
		return Ok("done")
	})
	if v, err := r.Unwrap(); err != nil || v != "done" || attempts != 3 {
		t.Fatalf("got %q, %v after %d attempts", v, err, attempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("syntax")
	attempts := 0
	err := RetryErr(context.Background(), RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) || attempts != 1 {
		t.Fatalf("got %v after %d attempts", err, attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryErr(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Hour}, func(context.Context) error {
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMapAndChunk(t *testing.T) {
	got := Map([]int{1, 2, 3}, func(n int) int { return n * n })
	if got[2] != 9 {
		t.Fatalf("Map = %v", got)
	}

	chunks := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(chunks) != 3 || len(chunks[2]) != 1 || chunks[2][0] != 5 {
		t.Fatalf("Chunk = %v", chunks)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("Chunk with n <= 0 should be nil")
	}
}
