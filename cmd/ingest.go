package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestFile string

var ingestCmd = &cobra.Command{
	Use:   "ingest [url ...]",
	Short: "Ingest funding documents from URLs or a local file",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && ingestFile == "" {
			return eris.New("provide at least one URL or --file")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if ingestFile != "" {
			data, err := os.ReadFile(ingestFile)
			if err != nil {
				return eris.Wrapf(err, "read %s", ingestFile)
			}
			res, err := env.Pipeline.IngestUpload(ctx, filepath.Base(ingestFile), data)
			if err != nil {
				return eris.Wrapf(err, "ingest %s", ingestFile)
			}
			if err := enc.Encode(res); err != nil {
				return err
			}
		}

		if len(args) == 0 {
			return nil
		}

		items, err := env.Pipeline.IngestBatch(ctx, args)
		if err != nil {
			return err
		}

		failed := 0
		for _, item := range items {
			if item.Err != nil {
				failed++
			}
		}
		zap.L().Info("batch complete",
			zap.Int("total", len(items)),
			zap.Int("failed", failed))

		type itemOut struct {
			URL    string `json:"url"`
			Error  string `json:"error,omitempty"`
			Result any    `json:"result,omitempty"`
		}
		out := make([]itemOut, 0, len(items))
		for _, item := range items {
			o := itemOut{URL: item.URL}
			if item.Err != nil {
				o.Error = item.Err.Error()
			} else {
				o.Result = item.Result
			}
			out = append(out, o)
		}
		if err := enc.Encode(out); err != nil {
			return err
		}

		if failed == len(items) {
			return eris.New("all URLs failed")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "local PDF or HTML file to ingest")
	rootCmd.AddCommand(ingestCmd)
}
