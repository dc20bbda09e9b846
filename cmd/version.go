package cmd

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set via -ldflags at build time.
var version = "(devel)"

// buildInfo identifies the running binary. serve reports the same version
// in /health and on its tracing resource.
type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

// currentBuild prefers the -ldflags version, then the module version `go
// install` stamps, and fills the commit from VCS settings when present.
func currentBuild() buildInfo {
	return resolveBuild(version, debug.ReadBuildInfo)
}

func resolveBuild(stamped string, read func() (*debug.BuildInfo, bool)) buildInfo {
	b := buildInfo{Version: stamped}
	info, ok := read()
	if !ok {
		return b
	}
	b.GoVersion = info.GoVersion
	if b.Version == "(devel)" && info.Main.Version != "" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Commit = s.Value
		case "vcs.modified":
			b.Dirty = s.Value == "true"
		}
	}
	return b
}

func (b buildInfo) String() string {
	s := b.Version
	if b.Commit != "" {
		s += " (" + shortCommit(b.Commit)
		if b.Dirty {
			s += ", dirty"
		}
		s += ")"
	}
	return s
}

func shortCommit(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	RunE: func(cmd *cobra.Command, args []string) error {
		b := currentBuild()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(b)
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "dojo", b)
		return err
	},
}

func init() {
	versionCmd.Flags().Bool("json", false, "Print build details as JSON")
}
