package cli

import (
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/legwork-ci/legwork/internal/logging"
	"github.com/legwork-ci/legwork/internal/pipeline"
	"github.com/legwork-ci/legwork/internal/trigger"
	"github.com/legwork-ci/legwork/internal/webhook"
)

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept push webhooks and run the pipeline for each event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.ProjectDir)
			if err != nil {
				return err
			}
			defer logger.Close()

			eng, err := buildEngine(cfg, logger, nil)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// The pipeline file is re-read per event so edits take effect
			// without a restart. Loading stays on the request goroutine so
			// a broken definition surfaces as a 500; the run itself would
			// outlive the response timeout and moves to its own goroutine.
			var runs sync.WaitGroup
			dispatcher := func(evt trigger.Event) error {
				def, err := pipeline.Load(cfg.PipelinePath())
				if err != nil {
					return err
				}
				runs.Add(1)
				go func() {
					defer runs.Done()
					result, err := eng.Execute(ctx, def, evt, cfg.ProjectDir)
					if err != nil {
						logger.Printf("cli: %s: %v", evt.Describe(), err)
						return
					}
					if err := appendLogbook(cfg, result); err != nil {
						logger.Printf("cli: record run: %v", err)
					}
					logger.Printf("cli: %s: run %s %s", evt.Describe(), result.RunID, result.Status)
				}()
				return nil
			}

			server, err := webhook.NewServer(addr, dispatcher, webhook.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := server.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", server.Addr())
			<-ctx.Done()
			err = server.Shutdown(nil)
			runs.Wait()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8470", "listen address for the webhook server")
	return cmd
}
