package cpio

import (
	"fmt"
	"strconv"
	"strings"
)

// Verb names one command of the batch protocol.
type Verb string

const (
	VerbExists  Verb = "exists"
	VerbList    Verb = "ls"
	VerbRemove  Verb = "rm"
	VerbMkdir   Verb = "mkdir"
	VerbLink    Verb = "ln"
	VerbMove    Verb = "mv"
	VerbAdd     Verb = "add"
	VerbExtract Verb = "extract"
	VerbTest    Verb = "test"
	VerbPatch   Verb = "patch"
	VerbBackup  Verb = "backup"
	VerbRestore Verb = "restore"
	VerbSHA1    Verb = "sha1"
)

// Command is one parsed batch command.
type Command struct {
	Verb Verb
	// Args are the positional operands, flags removed.
	Args []string
	// Mode is the parsed octal mode for mkdir and add.
	Mode uint32
	// Recursive is set by -r on rm and ls.
	Recursive bool
	// NoCompress is set by -n on backup.
	NoCompress bool
}

// Usage lists the accepted command forms.
const Usage = `Supported commands:
  exists ENTRY
      Return 0 if ENTRY exists, else return 1
  ls [-r] [PATH]
      List PATH ("/" by default); -r lists recursively
  rm [-r] ENTRY
      Remove ENTRY; -r removes a directory with its contents
  mkdir MODE ENTRY
      Create directory ENTRY with permissions MODE
  ln TARGET ENTRY
      Create a symlink ENTRY pointing to TARGET
  mv SOURCE DEST
      Move SOURCE to DEST, replacing DEST
  add MODE ENTRY INFILE
      Add INFILE as ENTRY with permissions MODE, replacing ENTRY
  extract [ENTRY OUT]
      Extract ENTRY to OUT, or every entry into the working directory
  test
      Return a status bit field: 0x1 patched, 0x2 unsupported, 0x4 sony init
  patch
      Apply the ramdisk patches (KEEPVERITY, KEEPFORCEENCRYPT)
  backup ORIG [-n]
      Record stock state from ORIG; -n stores pre-images uncompressed
  restore
      Undo patch using the backup subtree
  sha1
      Print the recorded stock SHA1`

// ParseCommand parses one textual command such as "add 0755 sbin/su su".
// Empty and '#' lines parse to a zero Command with an empty Verb.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return Command{}, nil
	}
	c := Command{Verb: Verb(fields[0])}
	args := fields[1:]

	want := func(n ...int) error {
		for _, k := range n {
			if len(c.Args) == k {
				return nil
			}
		}
		return fmt.Errorf("%w: %q takes %v operands, got %d", ErrSyntax, c.Verb, n, len(c.Args))
	}

	switch c.Verb {
	case VerbRemove, VerbList:
		for _, a := range args {
			if a == "-r" {
				c.Recursive = true
				continue
			}
			c.Args = append(c.Args, a)
		}
		if c.Verb == VerbList {
			return c, want(0, 1)
		}
		return c, want(1)
	case VerbBackup:
		for _, a := range args {
			if a == "-n" {
				c.NoCompress = true
				continue
			}
			c.Args = append(c.Args, a)
		}
		return c, want(1)
	case VerbMkdir, VerbAdd:
		if len(args) == 0 {
			return c, fmt.Errorf("%w: %q needs a mode", ErrSyntax, c.Verb)
		}
		mode, err := strconv.ParseUint(args[0], 8, 32)
		if err != nil {
			return c, fmt.Errorf("%w: bad mode %q", ErrSyntax, args[0])
		}
		c.Mode = uint32(mode)
		c.Args = args[1:]
		if c.Verb == VerbMkdir {
			return c, want(1)
		}
		return c, want(2)
	case VerbExists:
		c.Args = args
		return c, want(1)
	case VerbLink, VerbMove:
		c.Args = args
		return c, want(2)
	case VerbExtract:
		c.Args = args
		return c, want(0, 2)
	case VerbTest, VerbPatch, VerbRestore, VerbSHA1:
		c.Args = args
		return c, want(0)
	default:
		return c, fmt.Errorf("%w: unknown command %q", ErrSyntax, c.Verb)
	}
}

// ParseCommands parses a whole batch up front so syntax errors surface
// before the archive is touched.
func ParseCommands(lines []string) ([]Command, error) {
	cmds := make([]Command, 0, len(lines))
	for _, l := range lines {
		c, err := ParseCommand(l)
		if err != nil {
			return nil, err
		}
		if c.Verb != "" {
			cmds = append(cmds, c)
		}
	}
	return cmds, nil
}
