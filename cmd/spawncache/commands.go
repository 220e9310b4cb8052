package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Keksclan/spawncache/descriptor"
	"github.com/Keksclan/spawncache/l2"
	"github.com/Keksclan/spawncache/metrics"
	"github.com/Keksclan/spawncache/sweep"
)

func newSweepCmd(flags *globalFlags) *cobra.Command {
	var daemon bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "delete L2 records whose TTL has elapsed",
		Long: "Runs one expiry sweep and exits. With --daemon the sweep runs on the\n" +
			"configured cron schedule and metrics are served until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if !daemon {
				n, err := a.cache.SweepExpired(ctx, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired records\n", n)
				return nil
			}

			job := sweep.NewExpiryJob(a.cache, a.cache.Metrics(), nil)

			sched := sweep.NewScheduler(a.logger)
			if err := sched.AddJob(job, a.cfg.Sweep.Schedule); err != nil {
				return err
			}
			stopMetrics := serveMetrics(a)
			defer stopMetrics()

			sched.Start(ctx)
			<-ctx.Done()
			sched.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&daemon, "daemon", false, "keep running and sweep on the configured schedule")
	return cmd
}

// serveMetrics exposes the registry on metrics.addr, if configured.
func serveMetrics(a *app) func() {
	if a.cfg.Metrics.Addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", zap.Error(err))
		}
	}()
	a.logger.Info("metrics listening", zap.String("addr", a.cfg.Metrics.Addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newInfoCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "show the L2 collection and effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.cache.L2Info(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(info); err != nil {
				return err
			}
			fmt.Fprintln(out, a.cfg.String())
			return nil
		},
	}
}

func newInvalidateCmd(flags *globalFlags) *cobra.Command {
	var (
		ids            []string
		kind           string
		capabilities   []string
		specialization string
	)
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "remove records by id or by descriptor",
		Example: "  spawncache invalidate --id 6f1c...\n" +
			"  spawncache invalidate --kind coder --cap ts --cap react",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(ids) == 0 && kind == "" {
				return errors.New("either --id or --kind is required")
			}
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if len(ids) > 0 {
				if err := a.cache.Invalidate(cmd.Context(), ids...); err != nil {
					return err
				}
				fmt.Fprintf(out, "invalidated %d records\n", len(ids))
				return nil
			}

			d := descriptor.Descriptor{Kind: kind, Capabilities: capabilities, Specialization: specialization}
			n, err := a.cache.InvalidateMatching(cmd.Context(), l2.FilterFor(d))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "invalidated %d records\n", n)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ids, "id", nil, "record id (repeatable)")
	cmd.Flags().StringVar(&kind, "kind", "", "descriptor kind to match")
	cmd.Flags().StringSliceVar(&capabilities, "cap", nil, "required capability (repeatable)")
	cmd.Flags().StringVar(&specialization, "specialization", "", "specialization to match")
	return cmd
}
