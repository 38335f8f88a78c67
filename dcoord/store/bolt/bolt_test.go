package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/clusterdfs/dfscoord/dcoord/store"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "coord.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.db.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	s := open(t)
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
}

func TestCreateChildAutoDeleteOnClose(t *testing.T) {
	s := open(t)
	conn, _ := s.Connect(context.Background())

	p, err := conn.CreateChild(context.Background(), "/Locks/Mutex", store.NewNode("Owner"), true)
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	conn.Close()

	other, _ := s.Connect(context.Background())
	defer other.Close()
	if _, ok, _ := other.Get(context.Background(), p, store.LockNone); ok {
		t.Errorf("expected auto-delete owner node to be gone after session close")
	}
}

func TestRemove(t *testing.T) {
	s := open(t)
	conn, _ := s.Connect(context.Background())
	defer conn.Close()

	conn.Set(context.Background(), "/Files/foo", store.NewNode("File"))
	if err := conn.Remove(context.Background(), "/Files/foo"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := conn.Get(context.Background(), "/Files/foo", store.LockNone); ok {
		t.Errorf("expected node to be gone after Remove")
	}
}

func TestRegisteredAsBoltBackend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "coord.db")
	st, err := store.New("bolt", dbPath)
	if err != nil {
		t.Fatalf("store.New(bolt): %v", err)
	}
	conn, err := st.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()
}
