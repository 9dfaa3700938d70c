package cpio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pdmccormick.com/initramfs"
)

func fixture(t *testing.T) *Archive {
	t.Helper()
	a := New()
	require.NoError(t, a.Add(0o750, "init", []byte("#!init")))
	require.NoError(t, a.Mkdir(0o755, "sbin"))
	require.NoError(t, a.Mkdir(0o755, "system/etc"))
	require.NoError(t, a.Add(0o644, "system/etc/fstab.qcom", []byte("/dev/block/system /system ext4 ro verify\n")))
	require.NoError(t, a.Link("/system/bin/sh", "sbin/sh"))
	return a
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"init":          "init",
		"/init":         "init",
		"//sbin/./su":   "sbin/su",
		"sbin/":         "sbin",
		"a/b/../c":      "a/c",
		"./overlay.d/x": "overlay.d/x",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"..", "../etc", "a/../../etc", "/../x"} {
		_, err := Normalize(bad)
		assert.ErrorIs(t, err, ErrPathTraversal, bad)
	}
	for _, bad := range []string{"", "/", "."} {
		_, err := Normalize(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	a := fixture(t)
	e, _ := a.Get("init")
	e.UID, e.GID = 1000, 2000
	require.NoError(t, a.Put("dev/null", &Entry{Mode: initramfs.Mode_CharDevice | 0o666, RdevMajor: 1, RdevMinor: 3}))

	raw := a.Serialize()
	assert.Zero(t, len(raw)%4, "archive is 4-byte aligned")

	b, err := Load(raw)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.Equal(t, raw, b.Serialize(), "serialization is deterministic")
}

func TestLoadEmpty(t *testing.T) {
	a, err := Load(nil)
	require.NoError(t, err)
	assert.Zero(t, a.Len())

	b, err := Load(New().Serialize())
	require.NoError(t, err)
	assert.Zero(t, b.Len())
}

func TestLoadConcatenated(t *testing.T) {
	first := New()
	require.NoError(t, first.Add(0o644, "a", []byte("one")))
	require.NoError(t, first.Add(0o644, "shared", []byte("old")))
	second := New()
	require.NoError(t, second.Add(0o644, "b", []byte("two")))
	require.NoError(t, second.Add(0o644, "shared", []byte("new")))

	raw := append(first.Serialize(), make([]byte, 512)...)
	raw = append(raw, second.Serialize()...)

	a, err := Load(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "shared"}, a.Paths())
	e, _ := a.Get("shared")
	assert.Equal(t, "new", string(e.Data))
}

func rawMember(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	cw := &countWriter{w: &buf}
	hdr := &initramfs.Header{
		Magic:    initramfs.Magic_070701,
		Mode:     initramfs.Mode_File | 0o644,
		NumLinks: 1,
		DataSize: uint32(len(data)),
		Filename: name,
	}
	require.NoError(t, writeMember(cw, hdr, data))
	return buf.Bytes()
}

func TestLoadRejectsTraversal(t *testing.T) {
	raw := rawMember(t, "../../etc/passwd", []byte("x"))
	_, err := Load(raw)
	require.ErrorIs(t, err, ErrStructure)
	assert.ErrorIs(t, err, ErrPathTraversal)
}

func TestLoadRejectsOversizedMember(t *testing.T) {
	raw := rawMember(t, "init", []byte("x"))
	// c_filesize is the seventh 8-digit field after the 6-byte magic.
	copy(raw[6+6*8:], "fffffff0")
	_, err := Load(raw)
	require.ErrorIs(t, err, ErrStructure)
}

func TestLoadTruncated(t *testing.T) {
	raw := rawMember(t, "init", bytes.Repeat([]byte("x"), 64))
	_, err := Load(raw[:len(raw)-40])
	require.ErrorIs(t, err, ErrStructure)
}

func TestLoadCompressedIsStructureError(t *testing.T) {
	_, err := Load([]byte("\x1f\x8b\x08\x00\x00\x00\x00\x00"))
	require.ErrorIs(t, err, ErrStructure)
}

func TestRemove(t *testing.T) {
	a := fixture(t)

	require.ErrorIs(t, a.Remove("missing", false), ErrNotFound)
	require.ErrorIs(t, a.Remove("system", false), ErrNotEmpty, "implied directory with children")
	assert.True(t, a.Exists("system/etc/fstab.qcom"), "failed remove leaves subtree intact")

	require.NoError(t, a.Remove("system", true))
	assert.False(t, a.Exists("system/etc"))
	assert.False(t, a.Exists("system/etc/fstab.qcom"))

	require.NoError(t, a.Remove("/init", false))
	assert.False(t, a.Exists("init"))
}

func TestMkdirConflict(t *testing.T) {
	a := fixture(t)
	require.ErrorIs(t, a.Mkdir(0o755, "init"), ErrConflict)

	require.NoError(t, a.Mkdir(0o700, "sbin"))
	e, _ := a.Get("sbin")
	assert.True(t, e.Mode.Dir())
	assert.Equal(t, uint32(0o700), e.Perm())
}

func TestAddReplaces(t *testing.T) {
	a := fixture(t)
	require.NoError(t, a.Add(0o755, "init", []byte("magiskinit")))
	e, _ := a.Get("init")
	assert.Equal(t, "magiskinit", string(e.Data))
	assert.Equal(t, uint32(0o755), e.Perm())
	assert.True(t, e.Mode.File())

	require.ErrorIs(t, a.Add(0o644, "sbin", []byte("x")), ErrConflict)
	require.ErrorIs(t, a.Add(0o644, "system", []byte("x")), ErrConflict)
}

func TestAddReplacesEmptyDirectory(t *testing.T) {
	a := fixture(t)
	require.NoError(t, a.Mkdir(0o755, "overlay.d"))
	require.NoError(t, a.Add(0o644, "overlay.d", []byte("file now")))
	e, ok := a.Get("overlay.d")
	require.True(t, ok)
	assert.True(t, e.Mode.File())

	require.NoError(t, a.Mkdir(0o755, "bin"))
	require.NoError(t, a.Link("/system/bin", "bin"))
	e, _ = a.Get("bin")
	assert.True(t, e.Mode.Symlink())
}

func TestLink(t *testing.T) {
	a := New()
	require.NoError(t, a.Link("/does/not/exist", "bin/sh"))
	e, ok := a.Get("bin/sh")
	require.True(t, ok)
	assert.True(t, e.Mode.Symlink())
	assert.Equal(t, "/does/not/exist", string(e.Data))
}

func TestMoveReplacesDestination(t *testing.T) {
	a := fixture(t)
	require.NoError(t, a.Add(0o644, "old", []byte("stale")))
	require.NoError(t, a.Add(0o600, "new", []byte("fresh")))

	require.NoError(t, a.Move("new", "old"))
	assert.False(t, a.Exists("new"))
	e, ok := a.Get("old")
	require.True(t, ok)
	assert.Equal(t, "fresh", string(e.Data))
	assert.Equal(t, uint32(0o600), e.Perm())

	require.ErrorIs(t, a.Move("nope", "old"), ErrNotFound)
}

func TestMoveSubtree(t *testing.T) {
	a := fixture(t)
	require.NoError(t, a.Move("system", "vendor"))
	assert.True(t, a.Exists("vendor/etc/fstab.qcom"))
	assert.True(t, a.Exists("vendor/etc"))
	assert.Empty(t, a.Children("system"))

	require.ErrorIs(t, a.Move("vendor", "vendor/etc/x"), ErrConflict)
}

func TestMoveOntoAncestor(t *testing.T) {
	a := New()
	require.NoError(t, a.Mkdir(0o755, "a"))
	require.NoError(t, a.Mkdir(0o700, "a/b"))
	require.NoError(t, a.Add(0o644, "a/b/c", []byte("payload")))

	require.NoError(t, a.Move("a/b", "a"))
	assert.Equal(t, []string{"a", "a/c"}, a.Paths())
	dir, ok := a.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint32(0o700), dir.Perm())
	e, ok := a.Get("a/c")
	require.True(t, ok)
	require.NotNil(t, e)
	assert.Equal(t, "payload", string(e.Data))

	b, err := Load(a.Serialize())
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestList(t *testing.T) {
	a := fixture(t)
	top, err := a.List("/", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "sbin"}, top)

	all, err := a.List("system", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"system/etc", "system/etc/fstab.qcom"}, all)
}

func TestExtract(t *testing.T) {
	ctx := context.Background()
	a := fixture(t)
	dir := t.TempDir()

	out := filepath.Join(dir, "nested", "init")
	require.NoError(t, a.Extract(ctx, "init", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "#!init", string(data))

	require.ErrorIs(t, a.Extract(ctx, "missing", out), ErrNotFound)

	all := filepath.Join(dir, "all")
	require.NoError(t, a.ExtractAll(ctx, all))
	target, err := os.Readlink(filepath.Join(all, "sbin", "sh"))
	require.NoError(t, err)
	assert.Equal(t, "/system/bin/sh", target)
	info, err := os.Stat(filepath.Join(all, "system", "etc"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExtractAllRefusesSymlinkParents(t *testing.T) {
	ctx := context.Background()
	outside := t.TempDir()
	a := New()
	require.NoError(t, a.Link(outside, "x"))
	require.NoError(t, a.Add(0o644, "x/passwd", []byte("root::0:0")))

	err := a.ExtractAll(ctx, filepath.Join(t.TempDir(), "root"))
	require.ErrorIs(t, err, ErrPathTraversal)
	assert.NoFileExists(t, filepath.Join(outside, "passwd"))
}

func TestCloneIsIndependent(t *testing.T) {
	a := fixture(t)
	c := a.Clone()
	require.NoError(t, c.Remove("init", false))
	e, _ := c.Get("system/etc/fstab.qcom")
	e.Data[0] = 'X'

	assert.True(t, a.Exists("init"))
	orig, _ := a.Get("system/etc/fstab.qcom")
	assert.Equal(t, byte('/'), orig.Data[0])
}

func TestUpdateCommitsOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ramdisk.cpio")
	require.NoError(t, WriteFile(path, fixture(t)))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = Update(ctx, path, func(a *Archive) (bool, error) {
		require.NoError(t, a.Remove("init", false))
		return true, boom
	})
	require.ErrorIs(t, err, boom)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, Update(ctx, path, func(a *Archive) (bool, error) {
		return true, a.Remove("init", false)
	}))
	a, err := LoadFile(path)
	require.NoError(t, err)
	assert.False(t, a.Exists("init"))
}

func TestLoadFileMissing(t *testing.T) {
	a, err := LoadFile(filepath.Join(t.TempDir(), "absent.cpio"))
	require.NoError(t, err)
	assert.Zero(t, a.Len())
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand("add 0755 sbin/su su-binary")
	require.NoError(t, err)
	assert.Equal(t, VerbAdd, c.Verb)
	assert.Equal(t, uint32(0o755), c.Mode)
	assert.Equal(t, []string{"sbin/su", "su-binary"}, c.Args)

	c, err = ParseCommand("rm -r system")
	require.NoError(t, err)
	assert.True(t, c.Recursive)
	assert.Equal(t, []string{"system"}, c.Args)

	c, err = ParseCommand("backup ramdisk.cpio.orig -n")
	require.NoError(t, err)
	assert.True(t, c.NoCompress)

	c, err = ParseCommand("# comment")
	require.NoError(t, err)
	assert.Empty(t, c.Verb)

	for _, bad := range []string{"add 0999 x y", "mv a", "extract a", "frobnicate", "test extra", "mkdir 0755"} {
		_, err := ParseCommand(bad)
		assert.ErrorIs(t, err, ErrSyntax, bad)
	}

	cmds, err := ParseCommands([]string{"mkdir 0755 sbin", "", "exists sbin"})
	require.NoError(t, err)
	assert.Len(t, cmds, 2)
}
