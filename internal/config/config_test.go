package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestBindFlagsOverridesDefaults(t *testing.T) {
	c := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.BindFlags(fs)

	if err := fs.Parse([]string{"--store", "bolt", "--store-root", "/tmp/coord.db", "--log-level", "debug"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.StoreBackend != "bolt" {
		t.Errorf("StoreBackend = %q", c.StoreBackend)
	}
	if c.StoreRoot != "/tmp/coord.db" {
		t.Errorf("StoreRoot = %q", c.StoreRoot)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", c.LogLevel)
	}
}

func TestApplyInvalidLevel(t *testing.T) {
	c := Default()
	c.LogLevel = "not-a-level"
	if err := c.Apply(); err == nil {
		t.Errorf("expected an error applying an invalid log level")
	}
}
