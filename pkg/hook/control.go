// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ControlFileName is the name of the on-demand control file inside the
// control directory.
const ControlFileName = "hook.ctl"

// ControlFile is a one-byte state file shared between a running agent and
// the `threadhook hook` CLI:
//   - 0 = disabled
//   - 1 = enabled
//
// The agent creates it and watches it; the CLI opens it and writes the byte.
type ControlFile struct {
	path string
	file *os.File
}

// CreateControlFile creates (or truncates) the control file in dir and
// initializes it to the given state.
func CreateControlFile(dir string, initial State) (*ControlFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}

	path := filepath.Join(dir, ControlFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("create control file: %w", err)
	}

	c := &ControlFile{path: path, file: f}
	if err := c.Set(initial); err != nil {
		f.Close()
		return nil, fmt.Errorf("init control file: %w", err)
	}

	// Let unprivileged operators flip the hook.
	os.Chmod(path, 0666)

	return c, nil
}

// OpenControlFile opens an existing control file for read-write access.
// Used by `threadhook hook enable|disable|status`.
func OpenControlFile(dir string) (*ControlFile, error) {
	path := filepath.Join(dir, ControlFileName)

	f, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("open control file %s: %w", path, err)
	}

	return &ControlFile{path: path, file: f}, nil
}

// Set writes the state byte.
func (c *ControlFile) Set(s State) error {
	b := byte(0)
	if s == StateEnabled {
		b = 1
	}
	_, err := c.file.WriteAt([]byte{b}, 0)
	return err
}

// Enable writes the enabled byte.
func (c *ControlFile) Enable() error {
	return c.Set(StateEnabled)
}

// Disable writes the disabled byte.
func (c *ControlFile) Disable() error {
	return c.Set(StateDisabled)
}

// State reads the state byte. An empty file reads as disabled.
func (c *ControlFile) State() (State, error) {
	buf := make([]byte, 1)
	n, err := c.file.ReadAt(buf, 0)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return StateDisabled, err
		}
		return StateDisabled, nil
	}
	if buf[0] != 0 {
		return StateEnabled, nil
	}
	return StateDisabled, nil
}

// Close closes the file handle. It does not remove the file.
func (c *ControlFile) Close() error {
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

// Remove deletes the control file from disk.
func (c *ControlFile) Remove() {
	os.Remove(c.path)
}

// Path returns the control file path.
func (c *ControlFile) Path() string {
	return c.path
}
