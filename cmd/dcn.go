package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/serveroute/serveroute/internal/dcn"
	"github.com/serveroute/serveroute/internal/model"
)

var dcnCmd = &cobra.Command{
	Use:   "dcn",
	Short: "Upload, inspect and review DCN matches",
}

// cliSession builds the operator session from the persistent flags.
func cliSession(cmd *cobra.Command) (model.Session, error) {
	company, _ := cmd.Flags().GetString("company")
	actor, _ := cmd.Flags().GetString("actor")
	role, _ := cmd.Flags().GetString("role")
	s := model.Session{CompanyID: company, ActorID: actor, Role: model.Role(role)}
	if err := s.Validate(); err != nil {
		return s, eris.Wrap(err, "session flags")
	}
	return s, nil
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("company", "", "company id")
	cmd.PersistentFlags().String("actor", "cli", "actor id recorded in the audit trail")
	cmd.PersistentFlags().String("role", string(model.RoleAdmin), "actor role (worker, boss, admin)")
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// -- dcn import --

var dcnImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Match a CSV or XLSX DCN upload against route addresses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := cliSession(cmd)
		if err != nil {
			return err
		}

		content, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		batch, err := env.Processor.Process(ctx, sess, filepath.Base(args[0]), content)
		if err != nil {
			return eris.Wrap(err, "dcn import")
		}
		formatBatch(os.Stdout, batch)
		return nil
	},
}

// formatBatch writes a batch summary followed by its stored row errors.
func formatBatch(out io.Writer, b *model.DCNUploadBatch) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "BATCH\t%s\n", b.ID)
	_, _ = fmt.Fprintf(w, "FILE\t%s\n", b.Filename)
	_, _ = fmt.Fprintf(w, "STATUS\t%s\n", b.Status)
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\n", b.TotalRows)
	_, _ = fmt.Fprintf(w, "AUTO MATCHED\t%d\n", b.AutoMatched)
	_, _ = fmt.Fprintf(w, "PENDING REVIEW\t%d\n", b.PendingReview)
	_, _ = fmt.Fprintf(w, "UNMATCHED\t%d\n", b.Unmatched)
	_, _ = fmt.Fprintf(w, "INVALID\t%d\n", b.InvalidRows)
	if b.ErrorMessage != "" {
		_, _ = fmt.Fprintf(w, "ERROR\t%s\n", b.ErrorMessage)
	}
	_ = w.Flush()

	if len(b.ValidationErrors) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tFIELD\tERROR")
	for _, e := range b.ValidationErrors {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", e.Row, e.Field, e.Error)
	}
	_ = w.Flush()
}

// -- dcn template --

var dcnTemplateOut string

var dcnTemplateCmd = &cobra.Command{
	Use:   "template",
	Short: "Write the blank DCN upload template",
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := dcn.Template()
		if err != nil {
			return err
		}
		if dcnTemplateOut == "" || dcnTemplateOut == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(dcnTemplateOut, data, 0o644); err != nil {
			return eris.Wrapf(err, "write %s", dcnTemplateOut)
		}
		zap.L().Info("template written", zap.String("path", dcnTemplateOut))
		return nil
	},
}

// -- dcn batches --

var dcnBatchesCmd = &cobra.Command{
	Use:   "batches [batch-id]",
	Short: "List recent upload batches or show one",
	Args:  cobra.MaximumNArgs(1),
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

		if len(args) == 1 {
			b, err := env.Processor.Batch(ctx, sess, args[0])
			if err != nil {
				return eris.Wrap(err, "dcn batches")
			}
			formatBatch(os.Stdout, b)
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		batches, err := env.Processor.Batches(ctx, sess, limit)
		if err != nil {
			return eris.Wrap(err, "dcn batches")
		}
		if len(batches) == 0 {
			fmt.Fprintln(os.Stderr, "No batches found.")
			return nil
		}
		formatBatchList(os.Stdout, batches)
		return nil
	},
}

func formatBatchList(out io.Writer, batches []model.DCNUploadBatch) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tSTATUS\tCREATED\tTOTAL\tAUTO\tPENDING\tUNMATCHED\tINVALID")
	for _, b := range batches {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			shortID(b.ID),
			b.Filename,
			b.Status,
			b.CreatedAt.Format("2006-01-02 15:04"),
			b.TotalRows,
			b.AutoMatched,
			b.PendingReview,
			b.Unmatched,
			b.InvalidRows,
		)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// -- dcn review --

var dcnReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the match review queue",
}

var dcnReviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records awaiting review",
	RunE: func(cmd *cobra.Command, _ []string) error {
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

		raw, _ := cmd.Flags().GetStringSlice("status")
		var statuses []model.MatchStatus
		for _, s := range raw {
			statuses = append(statuses, model.MatchStatus(strings.TrimSpace(s)))
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		recs, err := env.Reviewer.Queue(ctx, sess, statuses, limit, offset)
		if err != nil {
			return eris.Wrap(err, "review list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}
		formatRecords(os.Stdout, recs)
		return nil
	},
}

func formatRecords(out io.Writer, recs []model.DCNRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDCN\tADDRESS\tSTATUS\tCONFIDENCE\tSUGGESTED")
	for _, r := range recs {
		conf, suggested := "-", "-"
		if r.MatchConfidence != nil {
			conf = fmt.Sprintf("%.2f", *r.MatchConfidence)
		}
		if r.SuggestedAddressID != nil {
			suggested = *r.SuggestedAddressID
		}
		addr := r.RawAddress
		if r.City != "" {
			addr += ", " + r.City
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.DCN, addr, r.MatchStatus, conf, suggested)
	}
	_ = w.Flush()
}

var dcnReviewConfirmCmd = &cobra.Command{
	Use:   "confirm <record-id> [address-id]",
	Short: "Link a record to an address (default: its suggestion)",
	Args:  cobra.RangeArgs(1, 2),
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

		var addressID string
		if len(args) == 2 {
			addressID = args[1]
		}
		rec, err := env.Reviewer.Confirm(ctx, sess, args[0], addressID)
		if err != nil {
			return eris.Wrap(err, "review confirm")
		}
		return printJSON(os.Stdout, rec)
	},
}

var dcnReviewRejectCmd = &cobra.Command{
	Use:   "reject <record-id>",
	Short: "Reject a record",
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

		rec, err := env.Reviewer.Reject(ctx, sess, args[0])
		if err != nil {
			return eris.Wrap(err, "review reject")
		}
		return printJSON(os.Stdout, rec)
	},
}

var dcnReviewSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search unlinked addresses for manual linking",
	Args:  cobra.MinimumNArgs(1),
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

		limit, _ := cmd.Flags().GetInt("limit")
		hits, err := env.Reviewer.Search(ctx, sess, strings.Join(args, " "), limit)
		if err != nil {
			return eris.Wrap(err, "review search")
		}
		if len(hits) == 0 {
			fmt.Fprintln(os.Stderr, "No addresses found.")
			return nil
		}
		formatAddresses(os.Stdout, hits)
		return nil
	},
}

func formatAddresses(out io.Writer, addrs []model.Address) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tADDRESS\tROUTE\tSTATUS")
	for i := range addrs {
		a := &addrs[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.DisplayAddress(), a.RouteID, a.Status)
	}
	_ = w.Flush()
}

var dcnReviewAuditCmd = &cobra.Command{
	Use:   "audit <record-id>",
	Short: "Show the audit trail of a record",
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

		entries, err := env.Reviewer.Audit(ctx, sess, args[0])
		if err != nil {
			return eris.Wrap(err, "review audit")
		}
		return printJSON(os.Stdout, entries)
	},
}

func init() {
	addSessionFlags(dcnCmd)

	dcnTemplateCmd.Flags().StringVarP(&dcnTemplateOut, "out", "o", "", "output path (default stdout)")
	dcnBatchesCmd.Flags().Int("limit", 20, "max batches to list")

	dcnReviewListCmd.Flags().StringSlice("status", nil, "statuses to list (default pending_review,unmatched)")
	dcnReviewListCmd.Flags().Int("limit", dcn.DefaultSearchLimit, "max records")
	dcnReviewListCmd.Flags().Int("offset", 0, "records to skip")
	dcnReviewSearchCmd.Flags().Int("limit", dcn.DefaultSearchLimit, "max results")

	dcnReviewCmd.AddCommand(dcnReviewListCmd, dcnReviewConfirmCmd, dcnReviewRejectCmd, dcnReviewSearchCmd, dcnReviewAuditCmd)
	dcnCmd.AddCommand(dcnImportCmd, dcnTemplateCmd, dcnBatchesCmd, dcnReviewCmd)
	rootCmd.AddCommand(dcnCmd)
}
