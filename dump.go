package diningagent

import (
	"fmt"
	"runtime"

	"github.com/davecgh/go-spew/spew"
)

// DumpIf pretty-prints values prefixed with the caller's location. The
// binaries gate it on DEBUG_DUMP.
func DumpIf(enabled bool, v ...any) {
	if !enabled {
		return
	}
	_, file, line, _ := runtime.Caller(1)
	args := append([]any{fmt.Sprintf("%s:%d:", file, line)}, v...)
	spew.Dump(args...)
}
