package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/api"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/config"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/controller"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/logging"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/probe"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/server"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/transcode"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func buildServerCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the coordination server",
	}

	var withWorker bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Start the server (HTTP API, gRPC worker protocol, scheduler)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := logging.Setup(file.Server.Log.Level, file.Server.Log.Format); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			var local *config.Worker
			if withWorker {
				local = &file.Worker
			}
			return runServer(ctx, &file.Server, local)
		},
	}
	run.Flags().BoolVar(&withWorker, "with-worker", false, "also run a worker against the in-process controller")
	cmd.AddCommand(run)
	return cmd
}

func buildWorkerCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a transcode worker",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start a worker that claims jobs from the server over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWorker(opts.configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRemoteWorker(ctx, cfg)
		},
	})
	return cmd
}

// runServer serves HTTP and gRPC until ctx is cancelled. With local set, a
// worker runs in-process through the controller's local job source.
func runServer(ctx context.Context, cfg *config.Server, local *config.Worker) error {
	ctrl, err := controller.New(controller.Config{
		DataDir:         cfg.DataDir,
		Liveness:        cfg.Liveness,
		CompactEvery:    cfg.CompactEvery,
		ScanSchedule:    cfg.Scan.Schedule,
		ScanConcurrency: cfg.Scan.Concurrency,
		ArchiveSchedule: cfg.Archive.Schedule,
		ArchiveMaxAge:   cfg.Archive.MaxAge,
		ArchiveKeep:     cfg.Archive.Keep,
		FFprobePath:     cfg.FFprobePath,
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	defer ctrl.Stop()

	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}

	var lis net.Listener
	if cfg.GRPCAddr != "" {
		if lis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
	}
	var w *worker.Worker
	if local != nil {
		if w, err = newWorker(ctrl.LocalSource(), local); err != nil {
			if lis != nil {
				lis.Close()
			}
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewRouter(ctrl),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("HTTP API listening", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	var grpcSrv *server.Server
	if lis != nil {
		grpcSrv = server.NewServer(ctrl)
		g.Go(func() error {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	if w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		if httpSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpSrv.Shutdown(sctx); err != nil {
				slog.Warn("HTTP shutdown", "error", err)
			}
		}
		if grpcSrv != nil {
			grpcSrv.Stop()
		}
		return nil
	})

	slog.Info("Server started", "dataDir", cfg.DataDir)
	return g.Wait()
}

func runRemoteWorker(ctx context.Context, cfg *config.Worker) error {
	conn, err := grpc.NewClient(cfg.ServerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer conn.Close()

	source := worker.NewGrpcJobSource(conn)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := source.Ping(pctx); err != nil {
		slog.Warn("Server not reachable yet", "addr", cfg.ServerAddr, "error", err)
	}
	cancel()

	w, err := newWorker(source, cfg)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func newWorker(source worker.JobSource, cfg *config.Worker) (*worker.Worker, error) {
	binary, err := transcode.FindHandBrake(cfg.HandBrakePath)
	if err != nil {
		return nil, err
	}

	// Without ffprobe the truncation check is skipped.
	var prober transcode.Prober
	if path, ok := probe.Resolve(cfg.FFprobePath); ok {
		prober = probe.New(path)
	} else {
		slog.Warn("ffprobe not found, output duration will not be verified")
	}

	cacheDir, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	return worker.New(source, transcode.NewHandBrake(binary), prober, worker.Config{
		ID:                cfg.WorkerID,
		Name:              cfg.Name,
		CacheDir:          cacheDir,
		WorkHours:         cfg.WorkHours,
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		CancelPoll:        cfg.CancelPoll,
	})
}
