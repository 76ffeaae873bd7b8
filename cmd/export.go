package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/voltree/internal/export"
)

var selectPath string

var exportCmd = &cobra.Command{
	Use:   "export [volume-dir] [query]",
	Short: "Print a volume, or the nodes matching a query, as JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openVolume(args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()

		query := ""
		if len(args) == 2 {
			query = args[1]
		}
		found, err := s.targets(query)
		if err != nil {
			return err
		}

		var out any
		if len(found) == 1 {
			out = export.Tree(found[0])
		} else {
			list := make([]any, 0, len(found))
			for _, e := range found {
				list = append(list, export.Tree(e))
			}
			out = list
		}
		if selectPath != "" {
			if out, err = export.Select(out, selectPath); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), export.JSON(out))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&selectPath, "select", "", "JSONPath applied to the exported tree")
	rootCmd.AddCommand(exportCmd)
}
