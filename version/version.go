package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time.
var (
	VERSION  = "unknown"
	REVISION = "HEAD"
	BUILTAT  = "now"
)

// String renders the build metadata printed by the version command.
func String() string {
	return fmt.Sprintf("Version:        %s\nGit hash:       %s\nBuilt:          %s\nGolang version: %s\nOS/Arch:        %s/%s\n",
		VERSION, REVISION, BUILTAT, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
