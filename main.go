// Crossforge is a packaging harness for an embedded cross-compilation
// toolchain. It drives the staged binutils/GCC/newlib bootstrap for a
// matrix of host platforms inside containers and packages the results
// into distributable archives.
package main

import (
	"github.com/opnlabs/crossforge/cmd/crossforge"
)

func main() {
	crossforge.Execute()
}
