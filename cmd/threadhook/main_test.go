package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mbeema/threadhook/pkg/hook"
)

func TestHookCommandRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctl, err := hook.CreateControlFile(dir, hook.StateDisabled)
	if err != nil {
		t.Fatalf("CreateControlFile: %v", err)
	}
	defer ctl.Close()

	var out, errOut bytes.Buffer
	if code := hookCommand([]string{"enable", "-control-dir", dir}, &out, &errOut); code != 0 {
		t.Fatalf("enable exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "thread hook enabled") {
		t.Errorf("output = %q", out.String())
	}
	if st, _ := ctl.State(); st != hook.StateEnabled {
		t.Errorf("state = %v, want enabled", st)
	}

	out.Reset()
	hookCommand([]string{"disable", "-control-dir", dir}, &out, &errOut)
	out.Reset()
	hookCommand([]string{"status", "-control-dir", dir}, &out, &errOut)
	if !strings.Contains(out.String(), "thread hook disabled") {
		t.Errorf("status output = %q", out.String())
	}
}

func TestHookCommandErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := hookCommand(nil, &out, &errOut); code != 2 {
		t.Errorf("no action: exit %d, want 2", code)
	}
	if code := hookCommand([]string{"status", "-control-dir", t.TempDir()}, &out, &errOut); code != 1 {
		t.Errorf("missing control file: exit %d, want 1", code)
	}

	dir := t.TempDir()
	ctl, _ := hook.CreateControlFile(dir, hook.StateDisabled)
	defer ctl.Close()
	if code := hookCommand([]string{"toggle", "-control-dir", dir}, &out, &errOut); code != 2 {
		t.Errorf("unknown action: exit %d, want 2", code)
	}
}
