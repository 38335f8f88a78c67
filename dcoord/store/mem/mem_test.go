package mem

import (
	"context"
	"testing"
	"time"

	"github.com/clusterdfs/dfscoord/dcoord/store"
)

func TestSetAndGet(t *testing.T) {
	s := New()
	conn, err := s.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	n := store.NewNode("File")
	n.SetProp("name", "foo")
	if err := conn.Set(context.Background(), "/Files/foo", n); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := conn.Get(context.Background(), "/Files/foo", store.LockNone)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if v, _ := got.Prop("name"); v != "foo" {
		t.Errorf("got name=%q", v)
	}

	if _, ok, err := conn.Get(context.Background(), "/Files/bar", store.LockNone); err != nil || ok {
		t.Errorf("Get(missing) ok=%v err=%v", ok, err)
	}
}

func TestCreateChildAutoDeleteOnClose(t *testing.T) {
	s := New()
	conn, _ := s.Connect(context.Background())

	owner := store.NewNode("Owner")
	p, err := conn.CreateChild(context.Background(), "/Locks/Mutex", owner, true)
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if _, ok, _ := conn.Get(context.Background(), p, store.LockNone); !ok {
		t.Fatalf("expected owner node to exist before close")
	}

	conn.Close()

	other, _ := s.Connect(context.Background())
	defer other.Close()
	if _, ok, _ := other.Get(context.Background(), p, store.LockNone); ok {
		t.Errorf("expected auto-delete owner node to be gone after session close")
	}
}

func TestWriteLockExcludesReader(t *testing.T) {
	s := New()
	writer, _ := s.Connect(context.Background())
	defer writer.Close()
	reader, _ := s.Connect(context.Background())
	defer reader.Close()

	n := store.NewNode("Mutex")
	if err := writer.Set(context.Background(), "/Locks/Mutex", n); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, _, err := writer.Get(context.Background(), "/Locks/Mutex", store.LockWrite); err != nil {
		t.Fatalf("Get(write): %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := reader.Get(ctx, "/Locks/Mutex", store.LockRead)
	if err == nil {
		t.Fatalf("expected reader to block while writer holds the write lock")
	}
}

func TestChangeModeUpgradeAndRelease(t *testing.T) {
	s := New()
	conn, _ := s.Connect(context.Background())
	defer conn.Close()

	if err := conn.Set(context.Background(), "/Locks/Mutex", store.NewNode("Mutex")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, _, err := conn.Get(context.Background(), "/Locks/Mutex", store.LockRead); err != nil {
		t.Fatalf("Get(read): %v", err)
	}
	if err := conn.ChangeMode(context.Background(), "/Locks/Mutex", store.LockWrite, time.Second); err != nil {
		t.Fatalf("ChangeMode(write): %v", err)
	}
	if err := conn.ChangeMode(context.Background(), "/Locks/Mutex", store.LockNone, 0); err != nil {
		t.Fatalf("ChangeMode(none): %v", err)
	}
}

func TestSubscribeNotifiesOnSet(t *testing.T) {
	s := New()
	conn, _ := s.Connect(context.Background())
	defer conn.Close()

	sub, err := conn.Subscribe(context.Background(), "/Redirects")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		conn.Set(context.Background(), "/Redirects", store.NewNode("Redirects"))
	}()

	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription event")
	}
}

func TestRegisteredAsMemBackend(t *testing.T) {
	st, err := store.New("mem", "")
	if err != nil {
		t.Fatalf("store.New(mem): %v", err)
	}
	if _, err := st.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}
