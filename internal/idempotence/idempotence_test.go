package idempotence_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/daybreak-hq/daybreak/internal/idempotence"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func randomKey() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 8)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

func setupCountExec(ctx context.Context, timeout time.Duration, ex func() error) (exec func() error, countexec func(count *int), cleanup func()) {
	execchan := make(chan struct{})
	exec = func() error {
		time.Sleep(timeout)
		execchan <- struct{}{}
		return ex()
	}
	cleanup = func() {
		close(execchan)
	}
	countexec = func(count *int) {
		for {
			select {
			case <-execchan:
				*count++
			case <-ctx.Done():
				return
			}
		}
	}
	return exec, countexec, cleanup
}

func TestIdempotence_Success(t *testing.T) {
	t.Parallel()

	i := idempotence.New(newTestClient(t),
		idempotence.WithTimeout(3*time.Second),
		idempotence.WithSuccessfulTTL(24*time.Hour),
	)

	t.Run("on separate keys", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		exec, countexec, cleanup := setupCountExec(ctx, 0, func() error { return nil })
		defer cleanup()

		go func() { i.Exec(ctx, randomKey(), exec) }()
		go func() { i.Exec(ctx, randomKey(), exec) }()

		count := 0
		go countexec(&count)
		<-ctx.Done()
		assert.Equal(t, 2, count, "should execute twice")
	})

	t.Run("when 2nd exec is within processing window", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exec, countexec, cleanup := setupCountExec(ctx, 1*time.Second, func() error { return nil })
		defer cleanup()

		key := randomKey()
		go func() { i.Exec(ctx, key, exec) }()
		errchan := make(chan error)
		go func() {
			time.Sleep(time.Second / 2)
			errchan <- i.Exec(ctx, key, exec)
		}()

		count := 0
		go countexec(&count)
		<-ctx.Done()
		err := <-errchan
		assert.Nil(t, err, "should not return error")
		assert.Equal(t, 1, count, "should execute once")
	})

	t.Run("when 2nd exec is after processed", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exec, countexec, cleanup := setupCountExec(ctx, 1*time.Second, func() error { return nil })
		defer cleanup()

		key := randomKey()
		go func() { i.Exec(ctx, key, exec) }()
		errchan := make(chan error)
		go func() {
			time.Sleep(2 * time.Second)
			errchan <- i.Exec(ctx, key, exec)
		}()

		count := 0
		go countexec(&count)
		<-ctx.Done()
		err := <-errchan
		assert.Nil(t, err, "should not return error")
		assert.Equal(t, 1, count, "should execute once")
	})
}

func TestIdempotence_Failure(t *testing.T) {
	t.Parallel()

	errExec := errors.New("exec error")

	i := idempotence.New(newTestClient(t),
		idempotence.WithTimeout(3*time.Second),
		idempotence.WithSuccessfulTTL(24*time.Hour),
	)

	t.Run("when 2nd exec is within processing window", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exec, countexec, cleanup := setupCountExec(ctx, 1*time.Second, func() error { return errExec })
		defer cleanup()

		key := randomKey()
		err1chan := make(chan error)
		err2chan := make(chan error)
		go func() { err1chan <- i.Exec(ctx, key, exec) }()
		go func() {
			time.Sleep(time.Second / 2)
			err2chan <- i.Exec(ctx, key, exec)
		}()

		count := 0
		go countexec(&count)
		<-ctx.Done()
		err1 := <-err1chan
		err2 := <-err2chan
		assert.Equal(t, errExec, err1, "first execution should return exec error")
		assert.Equal(t, idempotence.ErrConflict, err2, "second execution should return conflict error")
		assert.Equal(t, 1, count, "should execute once")
	})

	t.Run("when 2nd exec is after 1st exec completion", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exec, countexec, cleanup := setupCountExec(ctx, 1*time.Second, func() error { return errExec })
		defer cleanup()

		key := randomKey()
		err1chan := make(chan error)
		err2chan := make(chan error)
		go func() { err1chan <- i.Exec(ctx, key, exec) }()
		go func() {
			time.Sleep(2 * time.Second)
			err2chan <- i.Exec(ctx, key, exec)
		}()

		count := 0
		go countexec(&count)
		<-ctx.Done()
		err1 := <-err1chan
		err2 := <-err2chan
		assert.Equal(t, errExec, err1, "first execution should return exec error")
		assert.Equal(t, errExec, err2, "second execution should return exec error")
		assert.Equal(t, 2, count, "should execute twice")
	})
}

func TestIdempotence_CachedSuccessSkipsRerun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	i := idempotence.New(newTestClient(t),
		idempotence.WithTimeout(time.Second),
		idempotence.WithSuccessfulTTL(time.Minute),
	)

	key := randomKey()
	calls := 0
	fn := func() error { calls++; return nil }

	require.NoError(t, i.Exec(ctx, key, fn))
	require.NoError(t, i.Exec(ctx, key, fn))
	assert.Equal(t, 1, calls, "second call should be answered from cache")
}
