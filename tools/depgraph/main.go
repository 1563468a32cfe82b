// Command depgraph generates a Graphviz DOT description of this
// module's internal package dependency graph, so a reviewer can spot
// an accidental import cycle between, say, internal/idt and
// internal/sched before it reaches the linker.
package main

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/tools/go/packages"
)

func main() {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		fmt.Fprintln(os.Stderr, "depgraph:", err)
		os.Exit(1)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	fmt.Fprintln(w, "digraph deps {")
	seen := map[[2]string]bool{}
	for _, p := range pkgs {
		for importPath, imp := range p.Imports {
			edge := [2]string{p.PkgPath, importPath}
			if seen[edge] {
				continue
			}
			seen[edge] = true
			fmt.Fprintf(w, "    %q -> %q;\n", p.PkgPath, imp.PkgPath)
		}
	}
	fmt.Fprintln(w, "}")
}
