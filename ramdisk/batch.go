package ramdisk

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootkit/cpio"
	"github.com/projecteru2/bootkit/utils"
)

// Result is the outcome of a batch. Code is the process exit status the
// batch asks for: the exists/test answer, or 0.
type Result struct {
	Code      int
	Committed bool
}

// Run applies lines to the archive at path as one transaction. Commands
// run against a working copy, and the file is rewritten only when every
// command succeeded. exists and test end the batch and set Code; ls and
// sha1 print to out.
func Run(ctx context.Context, path string, lines []string, opts Options, out io.Writer) (Result, error) {
	cmds, err := cpio.ParseCommands(lines)
	if err != nil {
		return Result{}, err
	}
	logger := log.WithFunc("ramdisk.Run")
	var res Result
	err = cpio.Update(ctx, path, func(a *cpio.Archive) (bool, error) {
		mutated := false
		for _, c := range cmds {
			logger.Debugf(ctx, "run %s %v", c.Verb, c.Args)
			done, changed, code, err := apply(ctx, a, c, opts, out)
			if err != nil {
				return false, fmt.Errorf("%s: %w", c.Verb, err)
			}
			mutated = mutated || changed
			if done {
				res.Code = code
				break
			}
		}
		res.Committed = mutated
		return mutated, nil
	})
	return res, err
}

func apply(ctx context.Context, a *cpio.Archive, c cpio.Command, opts Options, out io.Writer) (done, changed bool, code int, err error) {
	switch c.Verb {
	case cpio.VerbExists:
		if a.Exists(c.Args[0]) {
			return true, false, 0, nil
		}
		return true, false, 1, nil
	case cpio.VerbTest:
		return true, false, int(Test(a)), nil
	case cpio.VerbList:
		p := "/"
		if len(c.Args) == 1 {
			p = c.Args[0]
		}
		paths, err := a.List(p, c.Recursive)
		if err != nil {
			return false, false, 0, err
		}
		for _, name := range paths {
			e, _ := a.Get(name)
			fmt.Fprintf(out, "%s\t%s\n", e, name)
		}
		return false, false, 0, nil
	case cpio.VerbSHA1:
		sum, err := StockSHA1(a)
		if err != nil {
			return false, false, 0, err
		}
		fmt.Fprintln(out, sum)
		return false, false, 0, nil
	case cpio.VerbExtract:
		if len(c.Args) == 0 {
			dir, err := os.Getwd()
			if err != nil {
				return false, false, 0, err
			}
			return false, false, 0, a.ExtractAll(ctx, dir)
		}
		return false, false, 0, a.Extract(ctx, c.Args[0], c.Args[1])
	case cpio.VerbRemove:
		return false, true, 0, a.Remove(c.Args[0], c.Recursive)
	case cpio.VerbMkdir:
		return false, true, 0, a.Mkdir(c.Mode, c.Args[0])
	case cpio.VerbLink:
		return false, true, 0, a.Link(c.Args[0], c.Args[1])
	case cpio.VerbMove:
		return false, true, 0, a.Move(c.Args[0], c.Args[1])
	case cpio.VerbAdd:
		data, err := os.ReadFile(c.Args[1]) //nolint:gosec // operator-supplied input
		if err != nil {
			return false, false, 0, fmt.Errorf("read %s: %w", c.Args[1], err)
		}
		return false, true, 0, a.Add(c.Mode, c.Args[0], data)
	case cpio.VerbPatch:
		return false, true, 0, Patch(ctx, a, opts)
	case cpio.VerbBackup:
		orig, err := cpio.LoadFile(c.Args[0])
		if err != nil {
			return false, false, 0, err
		}
		sum := ""
		if utils.Exists(c.Args[0]) {
			if sum, err = utils.SHA1File(c.Args[0]); err != nil {
				return false, false, 0, err
			}
		}
		return false, true, 0, Backup(ctx, a, orig, sum, !c.NoCompress)
	case cpio.VerbRestore:
		return false, true, 0, Restore(ctx, a)
	default:
		return false, false, 0, fmt.Errorf("%w: %q", cpio.ErrSyntax, c.Verb)
	}
}
