package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authcore/password"
)

// HashPasswordCommand prints an argon2id hash for the users section of the
// config file.
func HashPasswordCommand() *cobra.Command {
	params := password.DefaultParams()

	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Hash a password for the config file",
		Long: `Hash a password with argon2id. The password is read from the first
argument, or from the first line of stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plain string
			if len(args) == 1 {
				plain = args[0]
			} else {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					plain = strings.TrimRight(scanner.Text(), "\r\n")
				}
				if err := scanner.Err(); err != nil {
					return err
				}
			}
			if plain == "" {
				return errors.New("empty password")
			}

			hasher, err := password.NewHasher(params)
			if err != nil {
				return err
			}
			encoded, err := hasher.Hash(plain)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return err
		},
	}

	cmd.Flags().Uint32Var(&params.Memory, "memory", params.Memory, "argon2 memory in KiB")
	cmd.Flags().Uint32Var(&params.Time, "time", params.Time, "argon2 iterations")
	cmd.Flags().Uint8Var(&params.Parallelism, "parallelism", params.Parallelism, "argon2 lanes")
	return cmd
}
