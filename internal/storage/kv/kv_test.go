package kv_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
)

func TestItemAccessors(t *testing.T) {
	item := kv.Item{
		"s":       "text",
		"n":       int64(42),
		"nStr":    "17",
		"b":       true,
		"bStr":    "1",
		"bFalse":  "0",
		"badNum":  "abc",
		"plainIn": 7,
	}

	assert.Equal(t, "text", item.String("s"))
	assert.Equal(t, "42", item.String("n"))
	assert.Equal(t, "", item.String("missing"))

	assert.Equal(t, int64(42), item.Int("n"))
	assert.Equal(t, int64(17), item.Int("nStr"))
	assert.Equal(t, int64(7), item.Int("plainIn"))
	assert.Equal(t, int64(0), item.Int("badNum"))
	assert.Equal(t, int64(0), item.Int("missing"))

	assert.True(t, item.Bool("b"))
	assert.True(t, item.Bool("bStr"))
	assert.False(t, item.Bool("bFalse"))
	assert.False(t, item.Bool("missing"))

	assert.True(t, item.Has("s"))
	assert.False(t, item.Has("missing"))
}
