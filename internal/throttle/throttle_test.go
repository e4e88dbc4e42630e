package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// storeFactories runs every test against both backends
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"redis": func() Store {
			mr := miniredis.RunT(t)
			return &RedisStore{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
		},
	}
}

func TestStore_HourlyLimit(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			limits := Limits{MaxPerHour: models.Limit(2)}

			d1, err := s.CheckAndReserve(ctx, "r1", limits, t0)
			require.NoError(t, err)
			d2, err := s.CheckAndReserve(ctx, "r1", limits, t0.Add(10*time.Minute))
			require.NoError(t, err)
			d3, err := s.CheckAndReserve(ctx, "r1", limits, t0.Add(20*time.Minute))
			require.NoError(t, err)

			assert.True(t, d1.Allowed)
			assert.True(t, d2.Allowed)
			assert.False(t, d3.Allowed)
			assert.Equal(t, ReasonHourlyLimit, d3.Reason)

			// Rolling window: the first send expires one hour after it happened.
			d4, err := s.CheckAndReserve(ctx, "r1", limits, t0.Add(time.Hour+time.Second))
			require.NoError(t, err)
			assert.True(t, d4.Allowed)

			// Other rules are independent.
			other, err := s.CheckAndReserve(ctx, "r2", limits, t0.Add(20*time.Minute))
			require.NoError(t, err)
			assert.True(t, other.Allowed)
		})
	}
}

func TestStore_DailyLimit(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			limits := Limits{MaxPerHour: models.Limit(10), MaxPerDay: models.Limit(3)}

			for i := 0; i < 3; i++ {
				d, err := s.CheckAndReserve(ctx, "r1", limits, t0.Add(time.Duration(i)*2*time.Hour))
				require.NoError(t, err)
				require.True(t, d.Allowed)
			}

			d, err := s.CheckAndReserve(ctx, "r1", limits, t0.Add(7*time.Hour))
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, ReasonDailyLimit, d.Reason)

			d, err = s.CheckAndReserve(ctx, "r1", limits, t0.Add(24*time.Hour+time.Minute))
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		})
	}
}

func TestStore_Cooldown(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			limits := Limits{Cooldown: 15 * time.Minute}

			d, err := s.CheckAndReserve(ctx, "r1", limits, t0)
			require.NoError(t, err)
			assert.True(t, d.Allowed)

			d, err = s.CheckAndReserve(ctx, "r1", limits, t0.Add(14*time.Minute))
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, ReasonCooldown, d.Reason)

			d, err = s.CheckAndReserve(ctx, "r1", limits, t0.Add(15*time.Minute))
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		})
	}
}

func TestStore_DenialDoesNotReserve(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			limits := Limits{MaxPerHour: models.Limit(1)}

			_, err := s.CheckAndReserve(ctx, "r1", limits, t0)
			require.NoError(t, err)
			for i := 1; i <= 5; i++ {
				d, err := s.CheckAndReserve(ctx, "r1", limits, t0.Add(time.Duration(i)*time.Minute))
				require.NoError(t, err)
				assert.False(t, d.Allowed)
			}

			state, err := s.State(ctx, "r1", t0.Add(10*time.Minute))
			require.NoError(t, err)
			assert.Len(t, state.HourlySends, 1)
			assert.Len(t, state.DailySends, 1)
			assert.True(t, state.LastSend.Equal(t0))
		})
	}
}

func TestStore_ConcurrentReservationsRespectLimit(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			limits := Limits{MaxPerHour: models.Limit(5), MaxPerDay: models.Limit(8)}

			var allowed int64
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					d, err := s.CheckAndReserve(ctx, "hot", limits, t0.Add(time.Duration(i)*time.Second))
					if err == nil && d.Allowed {
						atomic.AddInt64(&allowed, 1)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int64(5), allowed)
		})
	}
}

func TestStore_UnsetLimitsAreUnlimited(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			for i := 0; i < 100; i++ {
				d, err := s.CheckAndReserve(context.Background(), "r", Limits{}, t0.Add(time.Duration(i)*time.Second))
				require.NoError(t, err)
				require.True(t, d.Allowed)
			}
		})
	}
}

func TestStore_ZeroLimitDeniesEverySend(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		reason Reason
	}{
		{"hourly", Limits{MaxPerHour: models.Limit(0)}, ReasonHourlyLimit},
		{"daily", Limits{MaxPerDay: models.Limit(0)}, ReasonDailyLimit},
	}
	for name, newStore := range storeFactories(t) {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				s := newStore()
				ctx := context.Background()

				d, err := s.CheckAndReserve(ctx, "r", tt.limits, t0)
				require.NoError(t, err)
				assert.False(t, d.Allowed)
				assert.Equal(t, tt.reason, d.Reason)

				state, err := s.State(ctx, "r", t0)
				require.NoError(t, err)
				assert.Empty(t, state.DailySends)
			})
		}
	}
}

type failingStore struct{}

func (failingStore) CheckAndReserve(ctx context.Context, ruleID string, limits Limits, now time.Time) (Decision, error) {
	return Decision{}, assert.AnError
}

func (failingStore) State(ctx context.Context, ruleID string, now time.Time) (models.ThrottleState, error) {
	return models.ThrottleState{}, assert.AnError
}

func TestGuard(t *testing.T) {
	rule := &models.AutoReplyRule{ID: "r1", MaxPerHour: models.Limit(2)}
	g := NewGuard(NewMemoryStore())
	ctx := context.Background()

	assert.True(t, g.CheckAndReserve(ctx, rule, t0).Allowed)
	assert.True(t, g.CheckAndReserve(ctx, rule, t0.Add(time.Minute)).Allowed)

	d := g.CheckAndReserve(ctx, rule, t0.Add(2*time.Minute))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonHourlyLimit, d.Reason)

	state, err := g.State(ctx, "r1", t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Len(t, state.HourlySends, 2)

	broken := NewGuard(failingStore{})
	d = broken.CheckAndReserve(ctx, rule, t0)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnavailable, d.Reason)
}
