package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [volume-dir]",
	Short: "Create a volume, or open an existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openVolume(args[0], true)
		if err != nil {
			return err
		}
		defer s.Close()

		verb := "Opened"
		if s.writes.written() > 0 {
			verb = "Created"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s volume %s (%s)\n", verb, s.vol.FullPath(), s.mgr.DocumentPath(s.vol.FullPath()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
