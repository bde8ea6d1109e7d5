// Package initcmder provides the init command for initializing a local .engram
// directory in the current working directory.
package initcmder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
)

const (
	dirName = ".engram"
)

const initLongDesc string = `Initialize a new .engram/ directory in the current working directory.

Creates a local .engram/ directory with a default config.toml. A local
directory takes precedence over the default ~/.engram/ directory for
configuration and graph storage.

This is useful for maintaining a separate knowledge graph per project.

Examples:
  engram init`

const initShortDesc string = "Initialize a local .engram/ directory"

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runInit()
		},
	}

	return cmd
}

func runInit() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	info, err := os.Stat(dir)
	if err == nil && info.IsDir() {
		fmt.Printf("Already initialized: %s\n", dir)
		return nil
	}

	if err := cliui.Step(os.Stdout, "Creating "+dirName+"/ directory", func() error {
		return os.MkdirAll(dir, 0o755)
	}); err != nil {
		return fmt.Errorf("creating .engram directory: %w", err)
	}

	if err := cliui.Step(os.Stdout, "Writing default config.toml", func() error {
		cfger, err := config.NewConfiger(dir)
		if err != nil {
			return err
		}
		return cfger.SaveConfig(config.NewDefaultConfig())
	}); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}

	fmt.Printf("\n  %s Initialized .engram directory: %s\n", cliui.SuccessMark, dir)
	return nil
}
