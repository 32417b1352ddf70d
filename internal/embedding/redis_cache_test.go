package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_Key(t *testing.T) {
	db, _ := redismock.NewClientMock()
	c := newRedisCache(db, "bge-m3", time.Hour, nil)
	k := c.Key("flying")
	assert.True(t, strings.HasPrefix(k, "manasearch:emb:bge-m3:"))
	assert.Equal(t, k, c.Key("flying"))
	assert.NotEqual(t, k, c.Key("trample"))

	other := newRedisCache(db, "text-embedding-3-small", time.Hour, nil)
	assert.NotEqual(t, k, other.Key("flying"))
}

func TestRedisCache_GetSet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	c := newRedisCache(db, "m", time.Hour, nil)
	vec := []float32{0.25, -1, 3.5}
	key := c.Key("deal 3 damage")

	mock.ExpectGet(key).RedisNil()
	_, ok := c.Get(ctx, "deal 3 damage")
	assert.False(t, ok)

	mock.ExpectSet(key, string(encodeFloat32s(vec)), time.Hour).SetVal("OK")
	c.Set(ctx, "deal 3 damage", vec)

	mock.ExpectGet(key).SetVal(string(encodeFloat32s(vec)))
	got, ok := c.Get(ctx, "deal 3 damage")
	require.True(t, ok)
	assert.Equal(t, vec, got)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_ErrorsAreMisses(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	c := newRedisCache(db, "m", time.Minute, nil)
	key := c.Key("x")

	mock.ExpectGet(key).SetErr(errors.New("connection refused"))
	_, ok := c.Get(ctx, "x")
	assert.False(t, ok)

	mock.ExpectGet(key).SetVal("abc")
	_, ok = c.Get(ctx, "x")
	assert.False(t, ok, "a blob that is not a float32 array is a miss")

	mock.ExpectSet(key, string(encodeFloat32s([]float32{1})), time.Minute).SetErr(errors.New("readonly"))
	c.Set(ctx, "x", []float32{1})

	c.Set(ctx, "x", nil)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFloat32Codec(t *testing.T) {
	_, ok := decodeFloat32s(nil)
	assert.False(t, ok)
	v, ok := decodeFloat32s(encodeFloat32s([]float32{1.5, -2}))
	require.True(t, ok)
	assert.Equal(t, []float32{1.5, -2}, v)
}
