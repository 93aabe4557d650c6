package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w
}

func runN(c *checkState, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		check    CheckFunc
		runs     int
		wantCode int
		wantBody string
	}{
		{"no runs yet", failingCheck("connection refused"), 0, http.StatusOK, `{"status":"ok"}`},
		{"below threshold", failingCheck("connection refused"), 2, http.StatusOK, `{"status":"ok"}`},
		{
			"at threshold", failingCheck("connection refused"), 3, http.StatusServiceUnavailable,
			`{"status":"unhealthy","checks":{"db":"connection refused"}}`,
		},
		{"passing", passingCheck(), 3, http.StatusOK, `{"status":"ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, tt.check)
			runN(h.checks[0], tt.runs)

			w := serve(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passingCheck())
	h.AddReadinessCheck("redis", time.Second, failingCheck("redis ping: refused"))
	h.AddLivenessCheck("goroutines", time.Second, failingCheck("too many"))

	w := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(t, h.ReadyEndpoint).Code)
	assert.True(t, h.IsReady())

	for _, c := range h.checks {
		runN(c, 3)
	}
	w = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"redis ping: refused"}}`, w.Body.String(),
		"liveness failures do not affect readiness")
	assert.False(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestCustomThresholds(t *testing.T) {
	failing := true
	h := New()
	h.Add(Check{
		Name: "flaky",
		Kind: Readiness,
		Func: func(context.Context) error {
			if failing {
				return errors.New("down")
			}
			return nil
		},
		FailureThreshold: 1,
		SuccessThreshold: 2,
	})
	h.SetReady(true)
	c := h.checks[0]
	assert.Equal(t, time.Second, c.Timeout)

	runN(c, 1)
	assert.False(t, h.IsReady())

	failing = false
	runN(c, 1)
	assert.False(t, h.IsReady(), "one success is not enough")
	runN(c, 1)
	assert.True(t, h.IsReady())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Add(Check{
		Name:             "slow",
		Kind:             Liveness,
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	runN(h.checks[0], 1)

	w := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "deadline exceeded")
}

func TestStartStop(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	h := New()
	h.AddLivenessCheck("count", time.Second, func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, failingCheck("err"))
	h.AddReadinessCheck("ready", time.Second, passingCheck())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		})
	}
	wg.Wait()
	h.Stop()
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pingerFunc(func(context.Context) error { return nil }))(context.Background()))

	err := PingCheck(pingerFunc(func(context.Context) error { return errors.New("refused") }))(context.Background())
	assert.EqualError(t, err, "ping: refused")
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	check := RedisCheck(client)
	assert.NoError(t, check(context.Background()))

	mr.SetError("LOADING")
	assert.Error(t, check(context.Background()))
}

func TestBacklogCheck(t *testing.T) {
	pending := 5
	check := BacklogCheck("outbox", 10, func(context.Context) (int, error) { return pending, nil })
	assert.NoError(t, check(context.Background()))

	pending = 11
	assert.EqualError(t, check(context.Background()), "outbox backlog 11 exceeds 10")

	broken := BacklogCheck("outbox", 10, func(context.Context) (int, error) { return 0, errors.New("db down") })
	assert.EqualError(t, broken(context.Background()), "count outbox: db down")
}

func TestSince(t *testing.T) {
	var last time.Time
	check := Since("outbox poller", time.Minute, func() time.Time { return last })
	assert.NoError(t, check(context.Background()), "never ran")

	last = time.Now()
	assert.NoError(t, check(context.Background()))

	last = time.Now().Add(-2 * time.Minute)
	assert.ErrorContains(t, check(context.Background()), "outbox poller last ran")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	assert.ErrorContains(t, GoroutineCountCheck(0)(context.Background()), "exceeds threshold")
}
