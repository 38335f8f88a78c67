package lfn

import (
	"strings"
	"testing"

	"github.com/clusterdfs/dfscoord/endpoint"
)

func mustParse(t *testing.T, s string) *LFN {
	t.Helper()
	l, err := Parse(s, nil)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return l
}

func TestBlankInput(t *testing.T) {
	l := mustParse(t, "")
	if l.Canonical != Blank {
		t.Errorf("Canonical = %q, want %q", l.Canonical, Blank)
	}
}

func TestScopeLowercasingAndTrim(t *testing.T) {
	l := mustParse(t, "  Thor::Test::MyFile  ")
	if l.Canonical != "thor::test::myfile" {
		t.Errorf("Canonical = %q", l.Canonical)
	}
	if l.Tail() != "myfile" {
		t.Errorf("Tail() = %q", l.Tail())
	}
}

func TestRoundTripFixpoint(t *testing.T) {
	for _, s := range []string{
		"thor::test::myfile",
		"a::b::c::d",
		"thor::test::myfile@mycluster",
	} {
		first := mustParse(t, s)
		second := mustParse(t, first.String())
		if first.String() != second.String() {
			t.Errorf("not a fixpoint: parse(%q).String()=%q, reparse=%q", s, first.String(), second.String())
		}
	}
}

func TestClusterSuffixStripped(t *testing.T) {
	l := mustParse(t, "thor::test::myfile@MyCluster")
	if l.Cluster != "mycluster" {
		t.Errorf("Cluster = %q, want mycluster", l.Cluster)
	}
	if strings.Contains(l.Canonical, "@") {
		t.Errorf("Canonical should not retain the cluster suffix, got %q", l.Canonical)
	}
}

func TestEscapedAtIsLiteral(t *testing.T) {
	l := mustParse(t, "thor::test::my@@file")
	if l.Cluster != "" {
		t.Errorf("expected no cluster hint, got %q", l.Cluster)
	}
}

func TestWildcardRejectedOutsideFileScope(t *testing.T) {
	if _, err := Parse("thor::test::my*file", nil); err == nil {
		t.Errorf("expected wildcard outside file:: scope to be rejected")
	}
}

func TestForeignPrefix(t *testing.T) {
	l := mustParse(t, "foreign::10.0.0.5:7070::thor::test::myfile")
	if !l.Foreign {
		t.Fatalf("expected Foreign=true")
	}
	local := l.Canonical[l.LocalPos:]
	again := mustParse(t, local)
	if again.Foreign {
		t.Errorf("local[localpos:] should itself be a non-foreign LFN, got %q", local)
	}
}

func TestSetForeignAndClearForeign(t *testing.T) {
	l := mustParse(t, "thor::test::myfile")
	l.SetForeign(mustEndpoint(t, "10.0.0.5:7070"), false)
	if !l.Foreign {
		t.Fatalf("expected Foreign=true after SetForeign")
	}
	l.ClearForeign()
	if l.Foreign {
		t.Fatalf("expected Foreign=false after ClearForeign")
	}
	if l.Canonical != "thor::test::myfile" {
		t.Errorf("Canonical after ClearForeign = %q", l.Canonical)
	}
}

func TestExternalFileScope(t *testing.T) {
	l := mustParse(t, "file::10.0.0.5:7070::mydir::myfile.csv")
	if !l.External {
		t.Fatalf("expected External=true")
	}
	if l.Endpoint.Host != "10.0.0.5" || l.Endpoint.Port != 7070 {
		t.Errorf("Endpoint = %+v", l.Endpoint)
	}
}

func TestExternalPathWindowsUNC(t *testing.T) {
	l := mustParse(t, "file::192.168.1.1::c$::users::bob::x.txt")
	dir, tail, err := l.ExternalPath(true)
	if err != nil {
		t.Fatalf("ExternalPath: %v", err)
	}
	if dir != `\\192.168.1.1\c$\users\bob\` {
		t.Errorf("dir = %q, want \\\\192.168.1.1\\c$\\users\\bob\\", dir)
	}
	if tail != "x.txt" {
		t.Errorf("tail = %q, want x.txt", tail)
	}
}

func TestExternalPathRejectsNonExternal(t *testing.T) {
	l := mustParse(t, "thor::test::myfile")
	if _, _, err := l.ExternalPath(false); err == nil {
		t.Fatalf("expected an error decoding a non-external LFN's path")
	}
}

func TestScopeQuery(t *testing.T) {
	l := mustParse(t, "thor::test::myfile")
	got := l.ScopeQuery(true)
	want := `/Files/Scope[@name="thor"]/Scope[@name="test"]`
	if got != want {
		t.Errorf("ScopeQuery = %q, want %q", got, want)
	}
	if got := l.FullnameQuery(BranchFile, true); !strings.HasSuffix(got, `/File[@name="myfile"]`) {
		t.Errorf("FullnameQuery = %q", got)
	}
}

type stubDirector struct{ names []string }

func (d stubDirector) Glob(prefixPattern string) ([]string, error) { return d.names, nil }

func TestMultiLFNScalarEntries(t *testing.T) {
	l := mustParse(t, "thor::test::{a,b,c}")
	if !l.IsMulti() {
		t.Fatalf("expected a multi-LFN")
	}
	if len(l.Multi) != 3 {
		t.Fatalf("got %d children, want 3", len(l.Multi))
	}
	if l.Multi[0].Tail() != "a" {
		t.Errorf("child[0].Tail() = %q", l.Multi[0].Tail())
	}
}

func TestMultiLFNAbsoluteChildIgnoresPrefix(t *testing.T) {
	l := mustParse(t, "thor::test::{a,~other::scope::b}")
	if l.Multi[1].Canonical != "other::scope::b" {
		t.Errorf("absolute child = %q", l.Multi[1].Canonical)
	}
}

func TestMultiLFNWildcardExpansionAllowsZeroResults(t *testing.T) {
	opts := &Options{Director: stubDirector{names: nil}}
	l, err := Parse("thor::test::{*}", opts)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !l.IsMulti() {
		t.Fatalf("expected a multi-LFN even with zero wildcard matches")
	}
	if len(l.Multi) != 0 {
		t.Errorf("expected zero children, got %d", len(l.Multi))
	}
}

func TestMultiLFNExternalIsOrOfChildren(t *testing.T) {
	opts := &Options{}
	l, err := Parse("thor::test::{a,~file::10.0.0.5:7070::dir::b}", opts)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !l.External {
		t.Errorf("expected multi-LFN External to be the OR of its children")
	}
}

func TestNoBracesIsNotMulti(t *testing.T) {
	l := mustParse(t, "thor::test::myfile")
	if l.IsMulti() {
		t.Errorf("scalar name should not be treated as multi")
	}
}

func mustEndpoint(t *testing.T, s string) endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.Parse(s)
	if err != nil {
		t.Fatalf("endpoint parse: %v", err)
	}
	return ep
}
