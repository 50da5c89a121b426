package medapi

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (s *countingSource) DrugLabel(_ context.Context, name string) (*DrugLabel, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &DrugLabel{BrandName: name}, nil
}

func (s *countingSource) DrugInteractions(_ context.Context, name string) (*DrugInteractions, error) {
	s.calls.Add(1)
	return &DrugInteractions{DrugName: name}, s.err
}

func (s *countingSource) RxNorm(_ context.Context, name string) (*RxNormResult, error) {
	s.calls.Add(1)
	return &RxNormResult{DrugName: name}, s.err
}

func (s *countingSource) SearchLiterature(_ context.Context, query string, _ int) ([]Article, error) {
	s.calls.Add(1)
	return []Article{{Title: query}}, s.err
}

func (s *countingSource) ICD10(_ context.Context, term string) ([]ICD10Code, error) {
	s.calls.Add(1)
	return []ICD10Code{{Code: "R51", Description: term}}, s.err
}

func (s *countingSource) Nutrition(_ context.Context, food string) (*Nutrition, error) {
	s.calls.Add(1)
	return &Nutrition{FoodName: food}, s.err
}

func TestCachedSource_Memory(t *testing.T) {
	src := &countingSource{}
	cs := NewCachedSource(src, NewMemoryCache(10), 0)
	ctx := context.Background()

	first, err := cs.DrugLabel(ctx, "Advil")
	require.NoError(t, err)
	second, err := cs.DrugLabel(ctx, " advil ")
	require.NoError(t, err)

	assert.Equal(t, "Advil", first.BrandName)
	assert.Equal(t, "Advil", second.BrandName)
	assert.Equal(t, int32(1), src.calls.Load())

	codes, err := cs.ICD10(ctx, "fever")
	require.NoError(t, err)
	assert.Equal(t, "fever", codes[0].Description)
	_, _ = cs.ICD10(ctx, "fever")
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCachedSource_ErrorsAreNotCached(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	cs := NewCachedSource(src, NewMemoryCache(10), time.Hour)

	_, err := cs.DrugLabel(context.Background(), "Advil")
	assert.Error(t, err)
	_, err = cs.DrugLabel(context.Background(), "Advil")
	assert.Error(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCachedSource_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	src := &countingSource{}
	cs := NewCachedSource(src, NewRedisCache(client), time.Hour)
	ctx := context.Background()

	_, err = cs.SearchLiterature(ctx, "migraine", 3)
	require.NoError(t, err)
	articles, err := cs.SearchLiterature(ctx, "migraine", 3)
	require.NoError(t, err)
	assert.Equal(t, "migraine", articles[0].Title)
	assert.Equal(t, int32(1), src.calls.Load())

	assert.True(t, mr.Exists("medisense:fact:pubmed:3:migraine"))
	mr.FastForward(2 * time.Hour)

	_, err = cs.SearchLiterature(ctx, "migraine", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCachedSource_RedisDownFallsThrough(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	src := &countingSource{}
	cs := NewCachedSource(src, NewRedisCache(client), time.Hour)

	n, err := cs.Nutrition(context.Background(), "apple")
	require.NoError(t, err)
	assert.Equal(t, "apple", n.FoodName)
}
