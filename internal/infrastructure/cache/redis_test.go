package cache

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"catalog-scraper/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type mark struct {
	IDs []string `json:"ids"`
}

func TestRedis_JSONRoundTripAndTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	r := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), log.New(io.Discard, "", 0))
	defer r.Close()
	ctx := context.Background()

	if err := r.SetJSON(ctx, "k", mark{IDs: []string{"a"}}, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got mark
	ok, err := r.GetJSON(ctx, "k", &got)
	if err != nil || !ok || len(got.IDs) != 1 {
		t.Fatalf("expected hit, got ok=%v err=%v %+v", ok, err, got)
	}

	mr.FastForward(2 * time.Hour)
	ok, err = r.GetJSON(ctx, "k", &got)
	if err != nil || ok {
		t.Fatalf("expected expiry miss, got ok=%v err=%v", ok, err)
	}
}

func TestRedis_UnconfiguredBypasses(t *testing.T) {
	r := NewRedis(config.RedisConfig{}, log.New(io.Discard, "", 0))
	if r.Available() || r.Client() != nil {
		t.Fatalf("expected bypass mode")
	}
	ctx := context.Background()
	if err := r.SetJSON(ctx, "k", 1, 0); err != nil {
		t.Fatalf("bypass set must succeed, got %v", err)
	}
	var v int
	if ok, err := r.GetJSON(ctx, "k", &v); ok || err != nil {
		t.Fatalf("bypass get must miss, got ok=%v err=%v", ok, err)
	}
}
