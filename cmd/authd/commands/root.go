package commands

import (
	"github.com/spf13/cobra"
)

var version = "v0.0.0"

// NewRootCMD command entry
func NewRootCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authd",
		Short: "Session and token authentication daemon",
		Long: `authd serves login, refresh, logout and authorization endpoints backed
by Redis. Users come from an in-memory argon2 directory seeded from the
config file.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
	}

	cmd.AddCommand(
		ServeCommand(),
		HashPasswordCommand(),
	)

	return cmd
}
