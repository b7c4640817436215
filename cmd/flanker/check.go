package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/flanker/internal/flagstore"
	"github.com/MrWong99/flanker/internal/scene"
	"github.com/MrWong99/flanker/internal/tracker"
)

// runCheck evaluates one target in a scene file and prints the verdict and
// the per-token classification. The exit code is 0 when the target is
// flanked, 3 when it is not.
func runCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	scenePath := fs.String("scene", "", "scene file (YAML/JSON, or Foundry export with -foundry)")
	foundry := fs.Bool("foundry", false, "read the scene as a Foundry VTT scene export")
	target := fs.String("target", "", "target token id or name")
	maxBonus := fs.Int("max-bonus", 0, "override the configured maximum bonus when positive")
	configPath := fs.String("config", "", "optional YAML configuration file for flanking rules")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *scenePath == "" || *target == "" {
		fmt.Fprintln(stderr, "flanker check: -scene and -target are required")
		fs.Usage()
		return 2
	}

	cfg, err := loadOptionalConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "flanker check: %v\n", err)
		return 1
	}
	logger, _ := newLogger(stderr, cfg.Server)

	sc, err := loadScene(*scenePath, *foundry)
	if err != nil {
		fmt.Fprintf(stderr, "flanker check: %v\n", err)
		return 1
	}
	tok, err := sc.Resolve(*target)
	if err != nil {
		fmt.Fprintf(stderr, "flanker check: %v\n", err)
		return 1
	}

	opts := cfg.Flanking.Options().WithMaxBonus(*maxBonus)

	tr := tracker.New(flagstore.NewMemStore(), tracker.StaticSettings(opts), tracker.WithLogger(logger))
	res, err := tr.Evaluate(context.Background(), sc, tok.ID)
	if err != nil {
		fmt.Fprintf(stderr, "flanker check: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, res.Summary())
	if res.Bonus > 0 {
		fmt.Fprintf(stdout, "bonus: +%d\n", res.Bonus)
	}
	if pretty := res.Pretty(); pretty != "" {
		fmt.Fprintln(stdout, pretty)
	}
	if !res.Flanked {
		return 3
	}
	return 0
}

func loadScene(path string, foundry bool) (*scene.Scene, error) {
	if !foundry {
		return scene.LoadFile(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()
	sc, err := scene.ImportFoundry(f)
	if err != nil {
		return nil, fmt.Errorf("import %q: %w", path, err)
	}
	return sc, nil
}
