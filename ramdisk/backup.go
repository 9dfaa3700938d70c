package ramdisk

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootkit/codec"
	"github.com/projecteru2/bootkit/cpio"
)

const (
	backupDir  = ".backup"
	markerPath = ".backup/.magisk"
	rmlistPath = ".backup/.rmlist"
	sha1Path   = ".backup/.sha1"

	compressedSuffix = ".xz"
)

var sha1Re = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// backup tracks the .backup subtree of an archive while it is mutated:
// pre-images stored under .backup/<path> and the NUL separated list of
// paths that did not exist before patching.
type backup struct {
	a        *cpio.Archive
	compress bool
	rmlist   []string
}

func openBackup(a *cpio.Archive, compress bool) *backup {
	b := &backup{a: a, compress: compress}
	if e, ok := a.Get(rmlistPath); ok {
		for _, p := range strings.Split(string(e.Data), "\x00") {
			if p != "" {
				b.rmlist = append(b.rmlist, p)
			}
		}
	}
	return b
}

func (b *backup) ensureDir() error {
	return b.a.Mkdir(0o700, backupDir)
}

func (b *backup) hasPreimage(p string) bool {
	return b.a.Exists(backupDir+"/"+p) || b.a.Exists(backupDir+"/"+p+compressedSuffix)
}

// record captures the state of p before its first mutation. Later calls for
// the same path are no-ops, which keeps patching idempotent.
func (b *backup) record(ctx context.Context, p string) error {
	if slices.Contains(b.rmlist, p) || b.hasPreimage(p) {
		return nil
	}
	e, ok := b.a.Get(p)
	if !ok {
		log.WithFunc("ramdisk.record").Infof(ctx, "record new entry [%s] -> [%s]", p, rmlistPath)
		b.rmlist = append(b.rmlist, p)
		return nil
	}
	return b.store(ctx, p, e)
}

func (b *backup) store(ctx context.Context, p string, e *cpio.Entry) error {
	dst := backupDir + "/" + p
	img := e.Clone()
	if b.compress && e.Mode.File() {
		var buf bytes.Buffer
		if err := codec.Compress(codec.FormatXZ, bytes.NewReader(e.Data), &buf); err != nil {
			return fmt.Errorf("compress pre-image of %s: %w", p, err)
		}
		img.Data = buf.Bytes()
		dst += compressedSuffix
	}
	log.WithFunc("ramdisk.store").Infof(ctx, "backup [%s] -> [%s]", p, dst)
	return b.a.Put(dst, img)
}

func (b *backup) save() error {
	if len(b.rmlist) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, p := range b.rmlist {
		buf.WriteString(p)
		buf.WriteByte(0)
	}
	return b.a.Put(rmlistPath, cpio.NewFile(0, buf.Bytes()))
}

// Backup records how target differs from orig so Restore can rebuild orig.
// Entries changed or dropped in target get a pre-image, entries new in
// target go to the remove list. Files the patcher edits are captured too,
// even when identical, so a later Patch finds them already recorded. An
// existing patch marker survives the rebuild of .backup.
func Backup(ctx context.Context, target, orig *cpio.Archive, stockSHA1 string, compress bool) error {
	logger := log.WithFunc("ramdisk.Backup")
	orig = orig.Clone()
	_ = orig.Remove(backupDir, true)
	marker, patched := target.Get(markerPath)
	if target.Exists(backupDir) || len(target.Children(backupDir)) > 0 {
		if err := target.Remove(backupDir, true); err != nil {
			return err
		}
	}

	b := openBackup(target, compress)
	if err := b.ensureDir(); err != nil {
		return err
	}
	if patched {
		if err := target.Put(markerPath, marker); err != nil {
			return err
		}
	}
	for _, p := range orig.Paths() {
		oe, _ := orig.Get(p)
		te, ok := target.Get(p)
		if ok && te.Equal(oe) && !patchTarget(p, oe) {
			continue
		}
		if err := b.store(ctx, p, oe); err != nil {
			return err
		}
	}
	for _, p := range target.Paths() {
		if p == backupDir || strings.HasPrefix(p, backupDir+"/") || orig.Exists(p) {
			continue
		}
		logger.Infof(ctx, "record new entry [%s] -> [%s]", p, rmlistPath)
		b.rmlist = append(b.rmlist, p)
	}
	if err := b.save(); err != nil {
		return err
	}
	if stockSHA1 != "" {
		if !sha1Re.MatchString(stockSHA1) {
			return fmt.Errorf("invalid stock sha1 %q", stockSHA1)
		}
		if err := target.Put(sha1Path, cpio.NewFile(0, []byte(stockSHA1+"\n"))); err != nil {
			return err
		}
	}
	return nil
}

// patchTarget reports whether Patch may rewrite p.
func patchTarget(p string, e *cpio.Entry) bool {
	return p == verityKey || p == rootInit || isFstab(p, e)
}

// Restore undoes Patch using the backup subtree: new entries are removed,
// pre-images are put back and .backup disappears.
func Restore(ctx context.Context, a *cpio.Archive) error {
	logger := log.WithFunc("ramdisk.Restore")
	if !a.Exists(backupDir) && len(a.Children(backupDir)) == 0 {
		return ErrNoBackup
	}
	b := openBackup(a, false)

	images := map[string]*cpio.Entry{}
	for _, p := range a.Children(backupDir) {
		switch p {
		case markerPath, rmlistPath, sha1Path:
			continue
		}
		e, _ := a.Get(p)
		name := strings.TrimPrefix(p, backupDir+"/")
		img := e.Clone()
		if e.Mode.File() && strings.HasSuffix(name, compressedSuffix) {
			var buf bytes.Buffer
			if err := codec.Decompress(codec.FormatXZ, bytes.NewReader(e.Data), &buf); err == nil {
				name = strings.TrimSuffix(name, compressedSuffix)
				img.Data = buf.Bytes()
			}
		}
		images[name] = img
	}

	if err := a.Remove(backupDir, true); err != nil {
		return err
	}
	for _, p := range b.rmlist {
		err := a.Remove(p, true)
		switch {
		case err == nil:
			logger.Infof(ctx, "remove [%s]", p)
		case !errors.Is(err, cpio.ErrNotFound):
			return err
		}
	}
	for name, e := range images {
		logger.Infof(ctx, "restore [%s]", name)
		if err := a.Put(name, e); err != nil {
			return err
		}
	}
	return nil
}

// StockSHA1 returns the digest of the stock image recorded in a. The
// dedicated file wins over the marker config, which wins over the legacy
// init.magisk.rc comment.
func StockSHA1(a *cpio.Archive) (string, error) {
	if e, ok := a.Get(sha1Path); ok {
		if s := strings.TrimSpace(string(e.Data)); sha1Re.MatchString(s) {
			return s, nil
		}
	}
	if e, ok := a.Get(markerPath); ok {
		if s, ok := scanValue(e.Data, "SHA1="); ok {
			return s, nil
		}
	}
	for _, rc := range []string{"init.magisk.rc", "overlay/init.magisk.rc"} {
		if e, ok := a.Get(rc); ok {
			if s, ok := scanValue(e.Data, "# STOCKSHA1="); ok {
				return s, nil
			}
		}
	}
	return "", ErrNoDigest
}

func scanValue(data []byte, prefix string) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if v, ok := strings.CutPrefix(line, prefix); ok && sha1Re.MatchString(v) {
			return v, true
		}
	}
	return "", false
}
