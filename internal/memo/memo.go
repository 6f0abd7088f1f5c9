// Package memo memoises expensive calls (LLM analysis, contract snippet
// extraction) through a shared key-value store with a distributed lock, so
// concurrent workers asking the same question compute it once.
package memo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Cache is the slice of the key-value store the memoiser needs. The redis
// implementation lives in redis.go; tests use an in-memory fake.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Lock blocks until the lock is held or wait time runs out, and
	// returns the release function.
	Lock(ctx context.Context, key string, ttl, wait time.Duration) (func(), error)
}

type Memoiser struct {
	cache       Cache
	Namespace   string
	TTL         time.Duration
	LockTimeout time.Duration
	LockWait    time.Duration
}

func New(cache Cache, namespace string, ttl time.Duration) *Memoiser {
	return &Memoiser{
		cache:       cache,
		Namespace:   namespace,
		TTL:         ttl,
		LockTimeout: 30 * time.Second,
		LockWait:    100 * time.Millisecond,
	}
}

// Key builds the cache key for one call: the function name plus a 16-hex
// digest of the canonically serialised arguments.
func Key(fn string, args ...any) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, canonical(arg))
	}
	full := fmt.Sprintf("%s(%s)", fn, strings.Join(parts, ","))
	sum := sha256.Sum256([]byte(full))
	return fmt.Sprintf("%s:%s", fn, hex.EncodeToString(sum[:])[:16])
}

// canonical renders an argument deterministically: maps by sorted keys,
// slices element-wise, everything else via its default formatting.
func canonical(v any) string {
	if v == nil {
		return "None"
	}
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case string:
		return t
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, canonical(rv.Index(i).Interface()))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case reflect.Map:
		keys := rv.MapKeys()
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, canonical(k.Interface())+":"+canonical(rv.MapIndex(k).Interface()))
		}
		sort.Strings(pairs)
		return "{" + strings.Join(pairs, ",") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Do returns the memoised result of compute for the given call signature.
// Misses take the per-key lock, re-check, compute, and store; empty results
// get a short negative-cache TTL. Every cache-layer failure degrades to a
// direct call.
func Do[T any](ctx context.Context, m *Memoiser, fn string, args []any, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	if m == nil || m.cache == nil {
		return compute(ctx)
	}
	key := m.Namespace + ":" + Key(fn, args...)

	if v, ok := lookup[T](ctx, m, key); ok {
		return v, nil
	}

	unlock, err := m.cache.Lock(ctx, key+":lock", m.LockTimeout, m.LockWait)
	if err != nil {
		log.Printf("memo: lock %s failed, direct call: %v", key, err)
		return compute(ctx)
	}
	defer unlock()

	if v, ok := lookup[T](ctx, m, key); ok {
		return v, nil
	}

	result, err := compute(ctx)
	if err != nil {
		return zero, err
	}
	ttl := m.TTL
	if isEmptyResult(result) {
		ttl = negativeTTL(m.TTL)
	}
	if data, encErr := encode(result); encErr != nil {
		log.Printf("memo: encode %s failed: %v", key, encErr)
	} else if setErr := m.cache.Set(ctx, key, data, ttl); setErr != nil {
		log.Printf("memo: store %s failed: %v", key, setErr)
	}
	return result, nil
}

func lookup[T any](ctx context.Context, m *Memoiser, key string) (T, bool) {
	var zero T
	data, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		log.Printf("memo: read %s failed: %v", key, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	v, err := decode[T](data)
	if err != nil {
		log.Printf("memo: decode %s failed: %v", key, err)
		return zero, false
	}
	return v, true
}

// negativeTTL is the short lifetime of an empty result: a fifth of the full
// TTL clamped to [1s, 5s].
func negativeTTL(full time.Duration) time.Duration {
	ttl := full / 5
	if ttl > 5*time.Second {
		ttl = 5 * time.Second
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func isEmptyResult(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	default:
		return rv.IsZero()
	}
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err == nil {
		return buf.Bytes(), nil
	}
	return json.Marshal(v)
}

// decode tries the binary encoding first and falls back to JSON, so entries
// written by older builds stay readable.
func decode[T any](data []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err == nil {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("memo: undecodable cache entry: %w", err)
	}
	return v, nil
}
