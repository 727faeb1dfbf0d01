package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/serveroute/serveroute/internal/attempt"
	"github.com/serveroute/serveroute/internal/model"
)

var attemptCmd = &cobra.Command{
	Use:   "attempt",
	Short: "Service attempt qualifiers and history",
}

var attemptClassifyCmd = &cobra.Command{
	Use:   "classify [RFC3339 time]",
	Short: "Classify a timestamp against service hours (default now)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at := time.Now()
		if len(args) == 1 {
			t, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return eris.Wrapf(err, "parse time %q", args[0])
			}
			at = t
		}

		c, err := attempt.NewClassifier(cfg.Attempts.Timezone, cfg.Attempts.ServiceStartHour, cfg.Attempts.ServiceEndHour)
		if err != nil {
			return err
		}
		formatClassification(os.Stdout, c.Classify(at))
		return nil
	},
}

func formatClassification(out io.Writer, cl attempt.Classification) {
	badges := make([]string, 0, len(cl.Badges))
	for _, b := range cl.Badges {
		badges = append(badges, string(b))
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "CATEGORY\t%s\n", cl.Category)
	_, _ = fmt.Fprintf(w, "DISPLAY\t%s\n", cl.Display)
	_, _ = fmt.Fprintf(w, "OUTSIDE HOURS\t%t\n", cl.IsOutsideHours)
	_, _ = fmt.Fprintf(w, "BADGES\t%s\n", strings.Join(badges, ","))
	_ = w.Flush()
}

var attemptNeededCmd = &cobra.Command{
	Use:   "needed <address-id>",
	Short: "Show which qualifiers an address still needs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := cliSession(cmd)
		if err != nil {
			return err
		}
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Attempts.NeededQualifiers(ctx, sess, args[0])
		if err != nil {
			return eris.Wrap(err, "attempt needed")
		}
		return printJSON(os.Stdout, st)
	},
}

var attemptListCmd = &cobra.Command{
	Use:   "list <address-id>",
	Short: "List attempts at an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := cliSession(cmd)
		if err != nil {
			return err
		}
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		attempts, err := env.Attempts.Attempts(ctx, sess, args[0])
		if err != nil {
			return eris.Wrap(err, "attempt list")
		}
		if len(attempts) == 0 {
			fmt.Fprintln(os.Stderr, "No attempts found.")
			return nil
		}
		formatAttempts(os.Stdout, attempts)
		return nil
	},
}

func formatAttempts(out io.Writer, attempts []model.Attempt) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tSTATUS\tTIME\tQUALIFIER\tOUTCOME\tPHOTOS\tWORKER")
	for i := range attempts {
		a := &attempts[i]
		outcome := "-"
		if a.Outcome != nil {
			outcome = string(*a.Outcome)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			a.AttemptNumber,
			a.Status,
			a.AttemptTime.Format("2006-01-02 15:04"),
			a.Qualifier,
			outcome,
			len(a.PhotoURLs),
			a.WorkerID,
		)
	}
	_ = w.Flush()
}

func init() {
	addSessionFlags(attemptCmd)
	attemptCmd.AddCommand(attemptClassifyCmd, attemptNeededCmd, attemptListCmd)
	rootCmd.AddCommand(attemptCmd)
}
