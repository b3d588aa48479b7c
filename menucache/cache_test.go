package menucache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"diningagent/menu"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCorpus() menu.Corpus {
	return menu.NewCorpus(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), []menu.Item{
		{Name: "Veggie Wrap", DietaryFlags: []string{"vegan"}, Allergens: []string{}, Meal: menu.Lunch},
	})
}

func TestGetOrFetch(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	c := New()
	c.now = func() time.Time { return now }

	var calls int
	fetch := func(ctx context.Context) (menu.Corpus, error) {
		calls++
		return testCorpus(), nil
	}

	got, err := c.GetOrFetch(context.Background(), "lunch", DefaultTTL, fetch)
	require.NoError(t, err)
	assert.Equal(t, testCorpus(), got)
	assert.Equal(t, 1, calls)

	now = now.Add(5 * time.Minute)
	_, err = c.GetOrFetch(context.Background(), "lunch", DefaultTTL, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fresh entry is served from cache")

	now = now.Add(5 * time.Minute)
	_, err = c.GetOrFetch(context.Background(), "lunch", DefaultTTL, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expired entry is refetched")

	c.Invalidate("lunch")
	_, err = c.GetOrFetch(context.Background(), "lunch", DefaultTTL, fetch)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGetOrFetchReturnsClones(t *testing.T) {
	c := New()
	fetch := func(ctx context.Context) (menu.Corpus, error) { return testCorpus(), nil }

	first, err := c.GetOrFetch(context.Background(), "k", time.Hour, fetch)
	require.NoError(t, err)
	first.Items[0].DietaryFlags[0] = "mutated"
	first.Items[0].Name = "mutated"

	second, err := c.GetOrFetch(context.Background(), "k", time.Hour, fetch)
	require.NoError(t, err)
	assert.Equal(t, "Veggie Wrap", second.Items[0].Name)
	assert.Equal(t, []string{"vegan"}, second.Items[0].DietaryFlags)
}

func TestGetOrFetchErrorsAreNotCached(t *testing.T) {
	c := New()
	boom := errors.New("upstream down")

	_, err := c.GetOrFetch(context.Background(), "k", time.Hour, func(ctx context.Context) (menu.Corpus, error) {
		return menu.Corpus{}, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := c.GetOrFetch(context.Background(), "k", time.Hour, func(ctx context.Context) (menu.Corpus, error) {
		return testCorpus(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestGetOrFetchCoalescesConcurrentMisses(t *testing.T) {
	c := New()
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (menu.Corpus, error) {
		calls.Add(1)
		<-release
		return testCorpus(), nil
	}

	const callers = 8
	var started, wg sync.WaitGroup
	started.Add(callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			started.Done()
			got, err := c.GetOrFetch(context.Background(), "k", time.Hour, fetch)
			assert.NoError(t, err)
			assert.Equal(t, 1, got.Len())
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(callers))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	before := calls.Load()
	_, err := c.GetOrFetch(context.Background(), "k", time.Hour, fetch)
	require.NoError(t, err)
	assert.Equal(t, before, calls.Load())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "2026-10-19:dinner", Key(menu.Dinner, time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)))
}
