package blob

import (
	"fmt"
	"sync"
	"testing"
)

var _ Store = (*MemStore)(nil)
var _ Store = (*FileStore)(nil)

func TestMemStorePutGetIsolation(t *testing.T) {
	s := NewMemStore()
	data := []byte("hello")
	if err := s.Put("seg1", data); err != nil {
		t.Fatalf("put: %v", err)
	}
	data[0] = 'H'
	out, err := s.Get("seg1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected 'hello', got %q", string(out))
	}
	out[0] = 'x'
	out2, _ := s.Get("seg1")
	if string(out2) != "hello" {
		t.Fatalf("expected isolation, got %q", string(out2))
	}
}

func TestMemStoreDelete(t *testing.T) {
	s := NewMemStore()
	if err := s.Put("seg1", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("seg1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("seg1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete("seg1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestMemStoreConcurrency(t *testing.T) {
	s := NewMemStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("seg%d", i%10)
			if err := s.Put(id, []byte("data")); err != nil {
				t.Errorf("put err: %v", err)
			}
			_, _ = s.Get(id)
		}()
	}
	wg.Wait()
}

func TestFileStorePutGet(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := s.Put("seg1", []byte("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}
	out, err := s.Get("seg1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected 'hello', got %q", string(out))
	}
	if err := s.Delete("seg1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("seg1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
