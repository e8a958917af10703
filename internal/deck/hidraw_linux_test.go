//go:build linux

package deck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchUevent(t *testing.T) {
	assert.True(t, matchUevent("DRIVER=hid-generic\nHID_ID=0003:00000FD9:00000084\nHID_NAME=Elgato Stream Deck +\n"))
	assert.True(t, matchUevent("HID_ID=0003:00000fd9:00000084"))
	assert.False(t, matchUevent("HID_ID=0003:00000FD9:00000060\n"))
	assert.False(t, matchUevent(""))
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	old := sysfsHidraw
	sysfsHidraw = root
	t.Cleanup(func() { sysfsHidraw = old })

	writeUevent := func(node, content string) {
		dir := filepath.Join(root, node, "device")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "uevent"), []byte(content), 0o644))
	}

	writeUevent("hidraw0", "HID_ID=0003:0000046D:0000C52B\n")
	_, err := Find()
	assert.ErrorIs(t, err, ErrDisconnected)

	writeUevent("hidraw3", "HID_ID=0003:00000FD9:00000084\n")
	path, err := Find()
	require.NoError(t, err)
	assert.Equal(t, "/dev/hidraw3", path)
}

func TestHidiocsfeature(t *testing.T) {
	// HIDIOCSFEATURE(32) as computed by the kernel headers.
	assert.Equal(t, uintptr(0xC0204806), hidiocsfeature(32))
}
