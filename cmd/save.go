package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var saveCmd = &cobra.Command{
	Use:   "save [volume-dir]",
	Short: "Load every document and write back the ones that changed",
	Long: `Load the whole volume and save it. Loading drops deprecated elements and
rewrites moved paths, so saving migrates a volume to the current format.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openVolume(args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.mgr.ResolveAll(s.vol); err != nil {
			return err
		}
		if err := s.vol.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d documents written\n", s.writes.written())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(saveCmd)
}
