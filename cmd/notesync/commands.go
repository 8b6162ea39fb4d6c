package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notesreview/notesync/internal/osmapi"
	"github.com/notesreview/notesync/internal/osmdump"
	"github.com/notesreview/notesync/internal/server"
	syncengine "github.com/notesreview/notesync/internal/sync"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <dump-file>",
		Short: "Import a full notes dump and reconcile deletions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(args[0])
		},
	}
}

func runImport(dumpPath string) error {
	runtime, release, err := newEngineRuntime()
	if err != nil {
		return err
	}
	defer release()

	file, err := os.Open(dumpPath)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer file.Close()

	writer, err := syncengine.NewWriter(syncengine.WriterConfig{
		Store:  runtime.store,
		Logger: runtime.logger,
	})
	if err != nil {
		return err
	}

	importer, err := syncengine.NewImporter(syncengine.ImporterConfig{
		Reader:     osmdump.NewReader(file, runtime.logger),
		Writer:     writer,
		Store:      runtime.store,
		Watermarks: runtime.watermarks,
		BatchSize:  runtime.cfg.BatchSize,
		Logger:     runtime.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := importer.Run(ctx)
	if err != nil {
		runtime.logger.Error("import run failed", zap.Error(err))
		return err
	}

	fmt.Printf(`
----------------------------------------
IMPORT SUMMARY
--------------------
Deleted %d notes
Added %d new notes
Updated %d already existing notes
Matched %d notes
Skipped %d malformed dump elements
Failed writes captured: %d
----------------------------------------
`, result.Stats.Deleted, result.Stats.Inserted, result.Stats.Updated,
		result.Stats.Matched, result.Skipped, result.Stats.Failed)
	return nil
}

func newUpdateCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Catch up with upstream changes since the last update",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "override the page size instead of deriving it from elapsed time")
	return cmd
}

func runUpdate(limit int) error {
	runtime, release, err := newEngineRuntime()
	if err != nil {
		return err
	}
	defer release()

	client, err := osmapi.NewClient(osmapi.ClientConfig{
		BaseURL: runtime.cfg.APIURL,
		Logger:  runtime.logger,
	})
	if err != nil {
		return err
	}

	writer, err := syncengine.NewWriter(syncengine.WriterConfig{
		Store:  runtime.store,
		Logger: runtime.logger,
	})
	if err != nil {
		return err
	}

	updater, err := syncengine.NewUpdater(syncengine.UpdaterConfig{
		Fetcher:        client,
		Writer:         writer,
		Watermarks:     runtime.watermarks,
		Clock:          runtime.clock,
		Logger:         runtime.logger,
		DriftTolerance: runtime.cfg.DriftTolerance,
		Pace:           runtime.cfg.Pace,
		MaxLimit:       runtime.cfg.MaxLimit,
		LimitOverride:  limit,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := updater.Run(ctx)
	if err != nil {
		runtime.logger.Error("update run failed", zap.Error(err))
		return err
	}

	fmt.Printf(`
----------------------------------------
UPDATE SUMMARY
--------------------
Last update:    %s
End of update:  %s
Requested %d notes per page across %d pages
--------------------
Deleted %d notes
Added %d new notes
Updated %d already existing notes
Ignored %d already existing notes
Failed writes captured: %d
----------------------------------------
`, result.LowerBound.Format(time.RFC3339), result.UpperBound.Format(time.RFC3339),
		result.Limit, result.Pages,
		result.Stats.Deleted, result.Stats.Inserted, result.Stats.Updated,
		result.Stats.Matched, result.Stats.Failed)
	return nil
}

func newReconcileCommand() *cobra.Command {
	var applyDeletions bool
	cmd := &cobra.Command{
		Use:   "reconcile <dump-file>",
		Short: "Delete notes that are no longer present in the notes dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(args[0], applyDeletions)
		},
	}
	cmd.Flags().BoolVar(&applyDeletions, "delete", false, "confirm deletion of the notes")
	return cmd
}

func runReconcile(dumpPath string, applyDeletions bool) error {
	runtime, release, err := newEngineRuntime()
	if err != nil {
		return err
	}
	defer release()

	file, err := os.Open(dumpPath)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer file.Close()

	reconciler, err := syncengine.NewReconciler(syncengine.ReconcilerConfig{
		Scanner:    osmdump.NewIDScanner(file, runtime.logger),
		Store:      runtime.store,
		Watermarks: runtime.watermarks,
		Clock:      runtime.clock,
		Logger:     runtime.logger,
		Apply:      applyDeletions,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := reconciler.Run(ctx)
	if err != nil {
		runtime.logger.Error("reconcile run failed", zap.Error(err))
		return err
	}

	fmt.Printf(`
----------------------------------------
RECONCILE SUMMARY
--------------------
In dump but not in database: %d
In database but not in dump: %d
Deleted %d notes (bounded by id %d)
----------------------------------------
`, result.DumpOnly, result.StoreOnly, result.Deleted, result.MaxID)
	if !applyDeletions && result.StoreOnly > 0 {
		fmt.Println("Run again with --delete to remove the stale notes.")
	}
	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	runtime, release, err := newEngineRuntime()
	if err != nil {
		return err
	}
	defer release()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:      runtime.store,
		Watermarks: runtime.watermarks,
		Logger:     runtime.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    runtime.cfg.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		runtime.logger.Info("status server starting", zap.String("address", runtime.cfg.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
