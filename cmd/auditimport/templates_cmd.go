package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/auditimport/internal/core"
	"github.com/JonMunkholm/auditimport/internal/objectstore"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage mapping templates",
	}
	cmd.AddCommand(newTemplatesSeedCmd(), newTemplatesListCmd())
	return cmd
}

func newTemplatesSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create mapping templates that do not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := templateSeeds(file)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(service *core.Service) error {
				ctx := core.ContextWithActor(cmd.Context(), "seed")
				n, err := service.SeedTemplates(ctx, inputs)
				if err != nil {
					return err
				}
				fmt.Printf("created %d of %d templates\n", n, len(inputs))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file of templates (default: built-in seeds)")
	return cmd
}

func newTemplatesListCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mapping templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(service *core.Service) error {
				templates, err := service.ListTemplates(cmd.Context(), core.TemplateFilter{NameContains: name})
				if err != nil {
					return err
				}
				return writeJSON(templates)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Only templates whose name contains this text")
	return cmd
}

// templateSeeds reads seeds from path, or returns the built-in ones.
func templateSeeds(path string) ([]core.TemplateInput, error) {
	if path == "" {
		return core.DefaultTemplateSeeds(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return core.LoadTemplateSeeds(f)
}

// withService runs fn against the configured store. File storage is not
// needed by template commands.
func withService(ctx context.Context, fn func(*core.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	service, err := core.NewService(core.Deps{
		Store:   be.store,
		Objects: objectstore.NewMemory(),
		Audit:   be.audit,
	}, cfg.Import.Options())
	if err != nil {
		return err
	}
	return fn(service)
}

// discardAudit drops audit events from offline commands.
type discardAudit struct{}

func (discardAudit) RecordAudit(context.Context, core.AuditEvent) error { return nil }
