// Package testing provides a reusable conformance suite for kv.Store
// implementations. Engines run it from their own interface test with a
// factory that produces a fresh store per subtest.
package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/cedarkv/cedar/lib/kv"
)

// StoreFactory creates a new, empty store instance.
type StoreFactory func(t testing.TB) kv.Store

// RunStoreTests runs the conformance suite for a Store implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PutGet", func(t *testing.T) {
			testPutGet(t, factory(t))
		})
		t.Run("Overwrite", func(t *testing.T) {
			testOverwrite(t, factory(t))
		})
		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory(t))
		})
		t.Run("Contains", func(t *testing.T) {
			testContains(t, factory(t))
		})
		t.Run("StringSet", func(t *testing.T) {
			testStringSet(t, factory(t))
		})
		t.Run("GetAllPutAll", func(t *testing.T) {
			testGetAllPutAll(t, factory(t))
		})
		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory(t))
		})
		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, store kv.Store) {
	if err := store.PutBool("flag", true); err != nil {
		t.Fatalf("PutBool: %v", err)
	}
	if err := store.PutInt32("count", -42); err != nil {
		t.Fatalf("PutInt32: %v", err)
	}
	if err := store.PutInt64("big", 1<<40); err != nil {
		t.Fatalf("PutInt64: %v", err)
	}
	if err := store.PutFloat32("ratio", 0.25); err != nil {
		t.Fatalf("PutFloat32: %v", err)
	}
	if err := store.PutFloat64("pi", 3.141592653589793); err != nil {
		t.Fatalf("PutFloat64: %v", err)
	}
	if err := store.PutString("greeting", "hello"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if err := store.PutBytes("blob", []byte{0, 1, 2, 254, 255}); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	if v, ok := store.GetBool("flag"); !ok || v != true {
		t.Errorf("GetBool = (%v, %v), want (true, true)", v, ok)
	}
	if v, ok := store.GetInt32("count"); !ok || v != -42 {
		t.Errorf("GetInt32 = (%v, %v), want (-42, true)", v, ok)
	}
	if v, ok := store.GetInt64("big"); !ok || v != 1<<40 {
		t.Errorf("GetInt64 = (%v, %v), want (%d, true)", v, ok, int64(1)<<40)
	}
	if v, ok := store.GetFloat32("ratio"); !ok || v != 0.25 {
		t.Errorf("GetFloat32 = (%v, %v), want (0.25, true)", v, ok)
	}
	if v, ok := store.GetFloat64("pi"); !ok || v != 3.141592653589793 {
		t.Errorf("GetFloat64 = (%v, %v), want (pi, true)", v, ok)
	}
	if v, ok := store.GetString("greeting"); !ok || v != "hello" {
		t.Errorf("GetString = (%q, %v), want (hello, true)", v, ok)
	}
	if v, ok := store.GetBytes("blob"); !ok || !bytes.Equal(v, []byte{0, 1, 2, 254, 255}) {
		t.Errorf("GetBytes = (%v, %v)", v, ok)
	}

	if _, ok := store.GetInt32("missing"); ok {
		t.Errorf("expected missing key to return loaded=false")
	}
}

func testOverwrite(t *testing.T, store kv.Store) {
	for i := 0; i < 10; i++ {
		if err := store.PutInt32("n", int32(i)); err != nil {
			t.Fatalf("PutInt32: %v", err)
		}
	}
	if v, ok := store.GetInt32("n"); !ok || v != 9 {
		t.Errorf("GetInt32 = (%v, %v), want (9, true)", v, ok)
	}

	if err := store.PutString("s", "a"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if err := store.PutString("s", "b"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if v, _ := store.GetString("s"); v != "b" {
		t.Errorf("same-length overwrite: got %q, want b", v)
	}
	if err := store.PutString("s", "longer value"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if v, _ := store.GetString("s"); v != "longer value" {
		t.Errorf("resize overwrite: got %q", v)
	}

	// changing a key's type keeps only the newest value
	if err := store.PutString("n", "now a string"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if _, ok := store.GetInt32("n"); ok {
		t.Errorf("expected old int value to be gone after type change")
	}
	if v, ok := store.GetString("n"); !ok || v != "now a string" {
		t.Errorf("GetString after type change = (%q, %v)", v, ok)
	}
}

func testRemove(t *testing.T, store kv.Store) {
	if err := store.PutInt64("k", 7); err != nil {
		t.Fatalf("PutInt64: %v", err)
	}
	store.Remove("k")
	if _, ok := store.GetInt64("k"); ok {
		t.Errorf("expected key to be gone after Remove")
	}
	// removing a missing key is a no-op
	store.Remove("never-existed")

	// a nil bytes value removes the key
	if err := store.PutBytes("b", []byte{1}); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if err := store.PutBytes("b", nil); err != nil {
		t.Fatalf("PutBytes(nil): %v", err)
	}
	if _, ok := store.GetBytes("b"); ok {
		t.Errorf("expected nil put to remove the key")
	}
}

func testContains(t *testing.T, store kv.Store) {
	if store.Contains("k") {
		t.Errorf("empty store should not contain k")
	}
	if err := store.PutBool("k", false); err != nil {
		t.Fatalf("PutBool: %v", err)
	}
	if !store.Contains("k") {
		t.Errorf("expected Contains(k) after put")
	}
	store.Remove("k")
	if store.Contains("k") {
		t.Errorf("expected !Contains(k) after remove")
	}
}

func testStringSet(t *testing.T, store kv.Store) {
	set := []string{"alpha", "", "beta", "gamma"}
	if err := store.PutStringSet("set", set); err != nil {
		t.Fatalf("PutStringSet: %v", err)
	}
	got, ok := store.GetStringSet("set")
	if !ok {
		t.Fatalf("GetStringSet: not loaded")
	}
	if len(got) != len(set) {
		t.Fatalf("GetStringSet: got %d elements, want %d", len(got), len(set))
	}
	for i := range set {
		if got[i] != set[i] {
			t.Errorf("element %d: got %q, want %q", i, got[i], set[i])
		}
	}

	if err := store.PutStringSet("set", nil); err != nil {
		t.Fatalf("PutStringSet(nil): %v", err)
	}
	if _, ok := store.GetStringSet("set"); ok {
		t.Errorf("expected nil set to remove the key")
	}
}

func testGetAllPutAll(t *testing.T, store kv.Store) {
	values := map[string]any{
		"bool":   true,
		"int32":  int32(1),
		"int64":  int64(2),
		"float":  float64(1.5),
		"string": "text",
		"bytes":  []byte{9, 8, 7},
		"set":    []string{"x", "y"},
	}
	store.PutAll(values)

	all := store.GetAll()
	if len(all) != len(values) {
		t.Fatalf("GetAll: got %d entries, want %d", len(all), len(values))
	}
	if all["bool"] != true || all["int32"] != int32(1) || all["int64"] != int64(2) {
		t.Errorf("GetAll primitives mismatch: %v", all)
	}
	if all["string"] != "text" {
		t.Errorf("GetAll string mismatch: %v", all["string"])
	}
	if b, ok := all["bytes"].([]byte); !ok || !bytes.Equal(b, []byte{9, 8, 7}) {
		t.Errorf("GetAll bytes mismatch: %v", all["bytes"])
	}
}

func testEdgeCases(t *testing.T, store kv.Store) {
	if err := store.PutInt32("", 1); err == nil {
		t.Errorf("expected error for empty key")
	}
	longKey := make([]byte, 256)
	for i := range longKey {
		longKey[i] = 'k'
	}
	if err := store.PutInt32(string(longKey), 1); err == nil {
		t.Errorf("expected error for 256-byte key")
	}
	// 255-byte keys are the documented maximum
	if err := store.PutInt32(string(longKey[:255]), 7); err != nil {
		t.Errorf("255-byte key should work: %v", err)
	}
	if v, ok := store.GetInt32(string(longKey[:255])); !ok || v != 7 {
		t.Errorf("255-byte key round trip failed")
	}

	if err := store.PutString("empty", ""); err != nil {
		t.Fatalf("PutString(\"\"): %v", err)
	}
	if v, ok := store.GetString("empty"); !ok || v != "" {
		t.Errorf("empty string round trip = (%q, %v)", v, ok)
	}
	if err := store.PutBytes("zero", []byte{}); err != nil {
		t.Fatalf("PutBytes(empty): %v", err)
	}
	if v, ok := store.GetBytes("zero"); !ok || len(v) != 0 {
		t.Errorf("empty bytes round trip = (%v, %v)", v, ok)
	}

	if err := store.PutObject("obj", struct{}{}, nil); err == nil {
		t.Errorf("expected error for nil encoder")
	}
}

func testRealisticUsage(t *testing.T, store kv.Store) {
	// interleaved puts, overwrites and removes across types
	expect := make(map[string]int64)
	for round := 0; round < 5; round++ {
		for i := 0; i < 50; i++ {
			key := fmt.Sprintf("counter-%d", i)
			v := int64(round*100 + i)
			if err := store.PutInt64(key, v); err != nil {
				t.Fatalf("PutInt64: %v", err)
			}
			expect[key] = v
		}
		for i := 0; i < 50; i += 5 {
			key := fmt.Sprintf("counter-%d", i)
			store.Remove(key)
			delete(expect, key)
		}
	}
	for key, want := range expect {
		if v, ok := store.GetInt64(key); !ok || v != want {
			t.Errorf("GetInt64(%s) = (%d, %v), want %d", key, v, ok, want)
		}
	}
	for i := 0; i < 50; i += 5 {
		if _, ok := store.GetInt64(fmt.Sprintf("counter-%d", i)); ok {
			t.Errorf("counter-%d should be removed", i)
		}
	}
}
