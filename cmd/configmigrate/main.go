// configmigrate is a thin CLI stub for migrating a pre-agent-control
// local config layout into the layout internal/configrepo.FileBackend
// expects (one YAML document per agent id under <dest>/<agent-id>.yaml).
// The migration logic itself is out of scope; this only wires the
// read-old/write-new plumbing through internal/configrepo, matching
// cmd/fc-init's minimal flag-parsed main rather than cobra, since this
// tool takes two flags (-src, -dest) and nothing else.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fleetcontrol/agent-control/internal/configrepo"
)

func main() {
	src := flag.String("src", "", "path to the legacy config directory")
	dest := flag.String("dest", "", "path to the new local config root (FileBackend layout)")
	flag.Parse()

	if *src == "" || *dest == "" {
		fmt.Fprintln(os.Stderr, "usage: configmigrate -src <legacy-dir> -dest <local-root>")
		os.Exit(2)
	}

	if err := migrate(*src, *dest); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// migrate copies every *.yaml/*.yml file directly under src into dest,
// as <agent-id>.yaml, named by its existing agent id (the file's base
// name without extension), so the destination ends up byte-for-byte
// what FileBackend.LoadLocal expects to read. configrepo.NewFileBackend
// is only used to prepare the destination roots. It does
// not attempt to translate the legacy document's schema — any field
// renames or structural changes are the out-of-scope migration logic
// spec.md names but does not specify.
func migrate(src, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("reading source directory: %w", err)
	}

	if _, err := configrepo.NewFileBackend(dest, filepath.Join(dest, ".remote")); err != nil {
		return fmt.Errorf("preparing destination: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	migrated := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			return fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		agentID := e.Name()[:len(e.Name())-len(ext)]
		target := filepath.Join(dest, agentID+".yaml")
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
		migrated++
	}

	fmt.Printf("configmigrate: migrated %d agent config(s) from %s to %s\n", migrated, src, dest)
	return nil
}
