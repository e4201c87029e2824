package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikolaj2268/review-radar/internal/app"
	"github.com/mikolaj2268/review-radar/internal/domain"
)

var (
	syFrom    string
	syTo      string
	syDays    int
	syAppID   string
	syRecheck string
)

func init() {
	syncCmd.Flags().StringVar(&syFrom, "from", "", "First day, YYYY-MM-DD")
	syncCmd.Flags().StringVar(&syTo, "to", "", "Last day, YYYY-MM-DD (default today)")
	syncCmd.Flags().IntVar(&syDays, "days", 7, "Window length when --from is not set")
	syncCmd.Flags().StringVar(&syAppID, "app-id", "", "Store app id (default: best search match for the name)")
	syncCmd.Flags().StringVar(&syRecheck, "recheck-from", "", "Fetch stored days on or after this day again")
}

var syncCmd = &cobra.Command{
	Use:   "sync <app-name>",
	Short: "Fetch the missing days of a window into the store",
	Long: `Fetch reviews for every day of the window that has none stored yet.

Ctrl-C stops after the page in flight has been saved.

Examples:
  reviewctl sync "Maps" --from 2024-05-01 --to 2024-05-31
  reviewctl sync Notes --app-id com.example.notes --days 3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := ctxOrBackground(cmd)
		name := args[0]
		window, err := windowFlags(syFrom, syTo, syDays, time.Now())
		if err != nil {
			return err
		}

		appID := syAppID
		if appID == "" {
			c, ok, err := deps.Resolver.First(ctx, name)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no app matches %q, pass --app-id", name)
			}
			appID = c.AppID
			fprintf(cmd.ErrOrStderr(), "resolved %q to %s (%s)\n", name, c.AppID, c.Title)
		}

		page := deps.PageOptions()
		req := domain.SyncRequest{AppID: appID, AppName: name, Window: window, Page: page}
		if syRecheck != "" {
			d, err := domain.ParseDate(syRecheck)
			if err != nil {
				return err
			}
			req.RecheckFrom = &d
		}

		token := app.NewCancelToken()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)
		go func() {
			select {
			case <-sig:
				fprintf(cmd.ErrOrStderr(), "\ncancelling after the current page...\n")
				token.Cancel()
			case <-token.Done():
			}
		}()

		errOut := cmd.ErrOrStderr()
		rep, err := deps.Sync.Sync(ctx, req, token, func(p domain.Progress) {
			fprintf(errOut, "\r%s  %3.0f%%  fetched %d", p.Range, 100*p.Fraction, p.Fetched)
		})
		token.Cancel()
		if err != nil {
			return err
		}
		fprintf(errOut, "\n")

		out := cmd.OutOrStdout()
		if outputJSON {
			if err := printJSON(out, rep); err != nil {
				return err
			}
		} else {
			fprintf(out, "%s: %s, %d fetched, %d new, %d ranges done, %d skipped\n",
				name, rep.Status, rep.Fetched, rep.Inserted, rep.RangesProcessed, rep.RangesSkipped)
		}
		if rep.Status == domain.StatusFailed {
			return rep.Cause
		}
		return nil
	},
}
