package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"knowledge-api/internal/api"
	"knowledge-api/internal/chunker"
	"knowledge-api/internal/helper"
	"knowledge-api/internal/parser"
	"knowledge-api/internal/rag"
	"knowledge-api/internal/worker"
)

var (
	ingestFile  string
	dryRun      bool
	searchQuery string
	searchLimit int
	exportPath  string
	exportKey   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Convert, chunk and index a local file",
	Long: `Runs the ingestion pipeline synchronously on a PDF, DOCX, XLSX, TXT or MD file.

Examples:
  knowledge-api ingest --file ./reports/annual.pdf
  knowledge-api ingest --file notes.md --dry-run`,
	RunE: runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Query the index",
	RunE:  runSearch,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective settings as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the chromem collection to an encrypted, compressed file",
	RunE:  runExport,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to the document file")
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the chunks instead of indexing them")
	_ = ingestCmd.MarkFlagRequired("file")

	searchCmd.Flags().StringVar(&searchQuery, "query", "", "search text")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "number of results (default from config)")
	_ = searchCmd.MarkFlagRequired("query")

	exportCmd.Flags().StringVar(&exportPath, "out", "knowledge_base.gob.gz.enc", "output file")
	exportCmd.Flags().StringVar(&exportKey, "key", os.Getenv("KAPI_EXPORT_KEY"), "32 byte encryption key")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := newJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer jobs.Close()

	pool := worker.NewPool(cfg.Worker.Concurrency)
	srv, err := api.NewServer(api.Deps{
		Config:   cfg,
		Pool:     pool,
		Pipeline: worker.NewPipeline(a.processor, a.chunker, a.vectors, jobs),
		Search:   rag.NewRAG(a.vectors, cfg.Search),
		Jobs:     jobs,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("Error shutting down http server")
	}
	if perr := pool.Shutdown(shutdownCtx); perr != nil {
		log.Warn().Err(perr).Msg("Background jobs cancelled before finishing")
	}
	return err
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if dryRun {
		res, err := parser.NewProcessor(cfg.PDF).ProcessFile(ctx, ingestFile)
		if err != nil {
			return err
		}
		chunks, err := chunker.NewService().CreateChunks(res.Content)
		if err != nil {
			return err
		}
		log.Info().Int("pages", res.PageCount).Int("chunks", len(chunks)).Msg("Dry run, nothing stored")
		helper.PrettyPrint(chunks)
		return nil
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := worker.NewPipeline(a.processor, a.chunker, a.vectors, nil).IngestFile(ctx, ingestFile)
	if out.Err != nil {
		return out.Err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d pages, %d chunks)\n",
		helper.SafeDocumentName(ingestFile), out.Status, out.Pages, out.Chunks)
	return nil
}

func runSearch(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var limit *int
	if cmd.Flags().Changed("limit") {
		limit = &searchLimit
	}
	results, err := rag.NewRAG(a.vectors, cfg.Search).Search(cmd.Context(), searchQuery, limit)
	if err != nil {
		return err
	}
	helper.PrettyPrint(results)
	return nil
}

func runExport(_ *cobra.Command, _ []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.chromem == nil {
		return errors.New("export is only available for the chromem vector store")
	}
	if err := a.chromem.Export(exportPath, exportKey); err != nil {
		return err
	}
	log.Info().Str("path", exportPath).Msg("Collection exported")
	return nil
}
