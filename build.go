//go:build ignore

// Builds both daemons into bin/. Run with: go run build.go
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

var targets = []string{"meshtun-client", "meshtun-server"}

func main() {
	if err := os.MkdirAll("bin", 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create bin directory: %v\n", err)
		os.Exit(1)
	}

	var g errgroup.Group
	for _, target := range targets {
		target := target
		g.Go(func() error {
			fmt.Printf("Building %s...\n", target)

			cmd := exec.Command("go", "build", "-o", filepath.Join("bin", target), "./"+filepath.Join("cmd", target))
			if output, err := cmd.CombinedOutput(); err != nil {
				return fmt.Errorf("failed to build %s:\n%s\n%w", target, output, err)
			}

			fmt.Printf("Successfully built %s\n", target)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("\nAll daemons built successfully! Binaries are in the bin directory.")
}
