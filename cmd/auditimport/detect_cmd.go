package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/auditimport/internal/core"
	"github.com/JonMunkholm/auditimport/internal/objectstore"
	"github.com/JonMunkholm/auditimport/internal/store/memory"
)

// newDetectCmd previews how a file would be mapped, offline. Matching
// templates are drawn from the built-in seeds.
func newDetectCmd() *cobra.Command {
	var seeds string

	cmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Show detected headers, suggested mapping and sample rows for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			service, err := core.NewService(core.Deps{
				Store:   memory.New(),
				Objects: objectstore.NewMemory(),
				Audit:   discardAudit{},
			}, core.Options{MaxFileSize: int64(len(data)) + 1})
			if err != nil {
				return err
			}

			inputs, err := templateSeeds(seeds)
			if err != nil {
				return err
			}
			if _, err := service.SeedTemplates(cmd.Context(), inputs); err != nil {
				return err
			}

			detection, err := service.DetectColumns(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				msg := core.MapError(err)
				return fmt.Errorf("%s [%s]: %w", msg.Message, msg.Code, err)
			}
			return writeJSON(detection)
		},
	}
	cmd.Flags().StringVar(&seeds, "templates", "", "YAML file of mapping templates to match against (default: built-in seeds)")
	return cmd
}
