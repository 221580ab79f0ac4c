package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nowusman/DocGuard/internal/domain"
)

// Version is set at build time with -ldflags "-X ...commands.Version=...".
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "docguard %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "supported formats: %s\n", strings.Join(domain.SupportedExtensions(), " "))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
