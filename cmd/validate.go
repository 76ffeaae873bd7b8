package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agentic-research/voltree/internal/volume"
)

var cleanInvalid bool

type invalidNode struct {
	elem   volume.Element
	reason string
}

var validateCmd = &cobra.Command{
	Use:   "validate [volume-dir]",
	Short: "Check every node against the filesystem",
	Long: `Load the whole volume, check each node that needs validation and report
the invalid ones. With --clean, invalid nodes are removed from the tree and
their files deleted unless they are locked. Validation results are saved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openVolume(args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()

		var (
			invalid []invalidNode
			checked int
		)
		skip := map[volume.Element]bool{}
		err = s.mgr.Walk(s.vol, func(e volume.Element) error {
			if p := e.Base().Parent(); p != nil && skip[p] {
				skip[e] = true
				return nil
			}
			if !e.NeedsValidation() {
				return nil
			}
			checked++
			if ok, reason := e.IsValid(); !ok {
				invalid = append(invalid, invalidNode{e, reason})
				skip[e] = true
			}
			return nil
		})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, bad := range invalid {
			fmt.Fprintf(w, "invalid\t%s\t%s\t%s\n", fullPath(bad.elem), bad.elem, bad.reason)
			if !cleanInvalid {
				continue
			}
			if err := bad.elem.Clean(bad.reason); err != nil {
				return fmt.Errorf("clean %s: %w", bad.elem, err)
			}
		}
		if err := s.vol.Save(); err != nil {
			return err
		}
		slog.Debug("validation finished", "checked", checked, "invalid", len(invalid), "documents", s.writes.written())
		fmt.Fprintf(w, "checked %d nodes, %d invalid, %d documents written\n", checked, len(invalid), s.writes.written())
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&cleanInvalid, "clean", false, "Remove invalid nodes and their files")
	rootCmd.AddCommand(validateCmd)
}
