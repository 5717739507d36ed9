package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/reqagent/ingest-cli/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Show the loaded site profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := profile.NewRegistry(cfg.Profiles.Path)

		out := struct {
			Path     string   `json:"path"`
			Domains  []string `json:"domains"`
			LoadedAt string   `json:"loaded_at"`
		}{
			Path:     cfg.Profiles.Path,
			Domains:  registry.Domains(),
			LoadedAt: registry.LoadedAt().Format("2006-01-02T15:04:05Z07:00"),
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}
