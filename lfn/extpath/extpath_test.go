package extpath

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := Encode("/mnt/data/MyFile.csv")
	gotDir, gotTail, err := Decode("", enc+"::tail.csv", false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotDir != "/mnt/data/MyFile.csv" {
		t.Errorf("dir = %q, want /mnt/data/MyFile.csv", gotDir)
	}
	if gotTail != "tail.csv" {
		t.Errorf("tail = %q", gotTail)
	}
}

func TestEncodeLowercasesAndEscapesUppercase(t *testing.T) {
	got := Encode("/data/MyFile")
	if got != "data::^my^file" {
		t.Errorf("Encode = %q", got)
	}
}

func TestWindowsDrivePrefix(t *testing.T) {
	got := Encode(`C:\data\file.csv`)
	if got[:2] != "c$" {
		t.Errorf("Encode(windows) = %q, want to start with c$", got)
	}
}

func TestDecodeWindowsUNCPath(t *testing.T) {
	dir, tail, err := Decode("192.168.1.1", "c$::users::bob::x.txt", true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dir != `\\192.168.1.1\c$\users\bob\` {
		t.Errorf("dir = %q, want \\\\192.168.1.1\\c$\\users\\bob\\", dir)
	}
	if tail != "x.txt" {
		t.Errorf("tail = %q, want x.txt", tail)
	}
}

func TestDecodePosixPathHasNoHostPrefix(t *testing.T) {
	dir, tail, err := Decode("192.168.1.1", "data::^myfile", false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dir != "/data" {
		t.Errorf("dir = %q, want /data", dir)
	}
	if tail != "Myfile" {
		t.Errorf("tail = %q, want Myfile", tail)
	}
}

func TestDollarPrefixBase32(t *testing.T) {
	got := Encode("$special/path")
	if got[0] != '$' {
		t.Errorf("expected leading $, got %q", got)
	}
	decoded, _, err := Decode("", got, false)
	_ = decoded
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestQueryForm(t *testing.T) {
	dir, tail, err := Decode("", "::>select * from foo", false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dir != "/" {
		t.Errorf("dir = %q, want /", dir)
	}
	if tail != "select * from foo" {
		t.Errorf("tail = %q", tail)
	}
}

func TestDecodeRejectsEmbeddedSeparator(t *testing.T) {
	if _, _, err := Decode("", "a/b::tail", false); err == nil {
		t.Errorf("expected ErrPathShape for an embedded separator")
	}
}

func TestDecodeRejectsBareColon(t *testing.T) {
	if _, _, err := Decode("", "a:b::tail", false); err == nil {
		t.Errorf("expected ErrPathShape for a bare colon")
	}
}
