package bucket

import (
	"errors"
	"reflect"
	"testing"
)

func TestSplitGroupList(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"mygroup", []string{"mygroup"}},
		{"Group1,Group2", []string{"group1", "group2"}},
		{"Group1,Group1", []string{"group1"}},
		{"SuperFiles,Group1", []string{"SuperFiles", "group1"}},
		{"grp[a,b],other", []string{"grp[a,b]", "other"}},
		{"grp(a,b),other", []string{"grp(a,b)", "other"}},
	} {
		got := SplitGroupList(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitGroupList(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestCacheLifecycle(t *testing.T) {
	c := NewCache()
	errBoom := errors.New("boom")

	if c.IsDeleted("g") {
		t.Errorf("unknown name should not report deleted")
	}

	c.MarkOK("g")
	if c.IsDeleted("g") {
		t.Errorf("marked OK should not be deleted")
	}

	c.MarkDeleted("g")
	if !c.IsDeleted("g") {
		t.Errorf("marked deleted should report deleted")
	}

	if err := c.Create("g", nil, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.IsDeleted("g") {
		t.Errorf("Create with no exists fn should mark OK")
	}

	c.status["g2"] = false
	err := c.Create("g2", nil, func() (bool, error) { return false, errBoom })
	if err != errBoom {
		t.Errorf("expected errBoom, got %v", err)
	}
	if !c.IsDeleted("g2") {
		t.Errorf("g2 should remain deleted")
	}

	if err := c.Remove("g", func() error { return nil }); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Remove("g", func() error { return nil }); err != ErrAlreadyDeleted {
		t.Errorf("expected ErrAlreadyDeleted, got %v", err)
	}
}
