package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"icdcoder/internal/agent"
	"icdcoder/internal/domain"
	"icdcoder/internal/eval"
	"icdcoder/internal/logger"
	"icdcoder/internal/server"
	"icdcoder/internal/tui"
)

const interruptTTL = time.Hour

func serveCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx := logger.ContextWithLogger(cmd.Context(), log)
			a, err := buildApp(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer a.Close()
			ag, err := a.buildAgent(ctx)
			if err != nil {
				return err
			}
			var asker server.Asker
			if ag != nil {
				asker = ag
				go pruneInterrupts(ctx, ag.Interrupts(), log)
			} else {
				log.Warn("LLM provider disabled; /ask is not served")
			}
			return server.New(asker, a.svc, a.metrics, log).Run(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func pruneInterrupts(ctx context.Context, store *agent.InterruptStore, log logger.Logger) {
	ticker := time.NewTicker(interruptTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := store.Prune(now.Add(-interruptTTL)); n > 0 {
				log.Info("Expired pending tool calls", "count", n)
			}
		}
	}
}

func searchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <symptoms>",
		Short: "Print ranked ICD-10 codes for a symptom description as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx := logger.ContextWithLogger(cmd.Context(), log)
			a, err := buildApp(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.svc.Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func ingestCmd(opts *rootOptions) *cobra.Command {
	var tabularPath, indexPath string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed the extracted corpus CSVs into their configured vector stores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if tabularPath == "" {
				tabularPath = cfg.Corpora.Tabular.DataPath
			}
			if indexPath == "" {
				indexPath = cfg.Corpora.Index.DataPath
			}
			ctx := logger.ContextWithLogger(cmd.Context(), log)
			a, err := buildApp(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer a.Close()
			for _, c := range []struct {
				source domain.Source
				path   string
			}{
				{domain.SourceTabular, tabularPath},
				{domain.SourceIndex, indexPath},
			} {
				source, path := c.source, c.path
				if path == "" {
					log.Warn("No data path; corpus skipped", "corpus", source)
					continue
				}
				n, err := a.svc.IngestFile(ctx, source, path)
				if err != nil {
					return fmt.Errorf("ingest %s corpus: %w", source, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records from %s\n", source, n, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tabularPath, "tabular", "", "Tabular CSV (overrides corpora.tabular.data_path)")
	cmd.Flags().StringVar(&indexPath, "index", "", "Alphabetic index CSV (overrides corpora.index.data_path)")
	return cmd
}

func tuiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive console for coding symptom descriptions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx := logger.ContextWithLogger(cmd.Context(), log)
			a, err := buildApp(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer a.Close()
			summary := fmt.Sprintf("tabular: %s/%s  index: %s/%s",
				cfg.Corpora.Tabular.Embedder.Type, cfg.Corpora.Tabular.VectorStore.Type,
				cfg.Corpora.Index.Embedder.Type, cfg.Corpora.Index.VectorStore.Type)
			_, err = tea.NewProgram(tui.New(ctx, a.svc, summary), tea.WithContext(ctx)).Run()
			return err
		},
	}
}

func evalCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "eval <labelled.csv>",
		Short: "Score top-1 accuracy and F1 against a CSV of input/output rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			samples, err := eval.ReadSamplesFile(args[0], limit)
			if err != nil {
				return err
			}
			ctx := logger.ContextWithLogger(cmd.Context(), log)
			a, err := buildApp(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer a.Close()
			log.Info("Starting evaluation", "samples", len(samples))
			rep, err := eval.Run(ctx, a.svc, samples)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Samples: %d (scored %d, skipped %d)\n", rep.Total, rep.Scored, rep.Skipped)
			fmt.Fprintf(out, "Accuracy: %.3f\n", rep.Accuracy)
			fmt.Fprintf(out, "F1-score: %.3f\n", rep.F1)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "Maximum samples to score (0 for all)")
	return cmd
}

