// Command initializer prepares an outreach workspace: the per-platform state
// folders, a default platforms.yaml and credential templates.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clawdops/outreach-desk/cmd/initializer/pkg"
	"github.com/clawdops/outreach-desk/internal/config"
	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/clawdops/outreach-desk/internal/poster"
)

func main() {
	force := flag.Bool("force", false, "overwrite an existing platforms.yaml with the defaults")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	platforms, err := drafts.ParsePlatforms(cfg.Workspace.Platforms)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid platforms: %v\n", err)
		os.Exit(1)
	}

	base := cfg.Workspace.OutreachBase
	created, err := pkg.EnsureLayout(base, platforms)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create workspace layout: %v\n", err)
		os.Exit(1)
	}
	for _, dir := range created {
		fmt.Println("created", dir)
	}

	manifest := poster.DefaultManifest()
	wrote, err := pkg.WriteManifest(cfg.Workspace.PlatformsFile, manifest, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write platform manifest: %v\n", err)
		os.Exit(1)
	}
	if wrote {
		fmt.Println("wrote", cfg.Workspace.PlatformsFile)
	} else {
		fmt.Println("kept existing", cfg.Workspace.PlatformsFile)
	}

	for _, p := range platforms {
		spec, ok := manifest.Lookup(p)
		if !ok || spec.EnvFile == "" {
			continue
		}
		path := spec.EnvFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}
		keys := append([]string{}, spec.RequiredKeys...)
		if spec.AccountKey != "" {
			keys = append(keys, spec.AccountKey)
		}
		wrote, err := pkg.EnsureEnvTemplate(path, keys)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
			os.Exit(1)
		}
		if wrote {
			fmt.Printf("wrote %s (fill in %s credentials)\n", path, p)
		}
	}
}
