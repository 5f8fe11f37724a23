package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"
	// GitSHA is set at build time.
	GitSHA = ""
)

// VersionCmd prints the build version.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("version: %s\n", Version)
		if GitSHA != "" {
			cmd.Printf("git sha: %s\n", GitSHA)
		}
		cmd.Printf("go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	},
}
