package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ofbconnect/internal/app"
	of "ofbconnect/internal/domain/openfinance"
	"ofbconnect/internal/shared/auth"
	"ofbconnect/internal/shared/config"
	"ofbconnect/internal/shared/logger"
)

const dateLayout = "2006-01-02"

type cli struct {
	loadConfig func() (*config.Config, error)
	cfg        *config.Config
	app        *app.App
}

// execute runs the command line in args. Services built for the command are
// closed before it returns, also when the command fails.
func execute(ctx context.Context, loadConfig func() (*config.Config, error), args []string, out io.Writer) error {
	c := &cli{loadConfig: loadConfig}
	defer c.close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Operational commands for the Open Finance integration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd)
		},
	}

	root.AddCommand(
		c.certInfoCmd(),
		c.syncCmd(),
		c.jobsCmd(),
		c.revokeCmd(),
		c.expireConsentsCmd(),
		c.issueTokenCmd(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)
	c.cfg = cfg

	c.app, err = app.Build(cmd.Context(), cfg, nil)
	return err
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

func (c *cli) certInfoCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "cert-info",
		Short: "Show the loaded transport and signing certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := c.app.Certs.Info()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, "No certificates loaded")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSUBJECT\tEXPIRES\tDAYS\tSTATUS")
			for _, i := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", i.Name, i.Subject, i.ExpiresAt.Format(time.RFC3339), i.DaysRemaining, i.Status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return c.app.Certs.Validate()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func (c *cli) syncCmd() *cobra.Command {
	var connectionID, from, to string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync for one connection and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			job, err := c.app.Engine.RunSync(cmd.Context(), connectionID, of.SyncOptions{Range: rng, Trigger: of.TriggerManual})
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), []*of.SyncJob{job})
			if job.Status == of.JobFailed {
				return fmt.Errorf("sync job %s failed", job.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection", "", "connection ID")
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD), defaults to today")
	_ = cmd.MarkFlagRequired("connection")
	return cmd
}

func (c *cli) jobsCmd() *cobra.Command {
	var connectionID string
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent sync jobs of a connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.app.Connections.Get(cmd.Context(), connectionID); err != nil {
				return err
			}
			jobs, err := c.app.Engine.Jobs(cmd.Context(), connectionID, limit)
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection", "", "connection ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to show")
	_ = cmd.MarkFlagRequired("connection")
	return cmd
}

func (c *cli) revokeCmd() *cobra.Command {
	var consentID, reason string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a consent and disconnect its connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			revoked, err := c.app.Consents.Revoke(cmd.Context(), consentID, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Consent %s is %s\n", revoked.ID, revoked.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&consentID, "consent", "", "consent ID")
	cmd.Flags().StringVar(&reason, "reason", "revoked by operator", "revocation reason")
	_ = cmd.MarkFlagRequired("consent")
	return cmd
}

func (c *cli) expireConsentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-consents",
		Short: "Expire consents past their expiration date",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := c.app.Connect.ExpireConsents(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d consent(s)\n", n)
			return err
		},
	}
}

func (c *cli) issueTokenCmd() *cobra.Command {
	var userID, email string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue an API access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.JWT.Secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			token, err := auth.NewJWT(c.cfg.JWT.Secret).Generate(userID, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func parseRange(from, to string) (*of.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" {
		return nil, errors.New("--from is required with --to")
	}
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	end := time.Now().UTC()
	if to != "" {
		if end, err = time.Parse(dateLayout, to); err != nil {
			return nil, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if end.Before(start) {
		return nil, errors.New("--to must not be before --from")
	}
	return &of.DateRange{From: start, To: end}, nil
}

func printJobs(w io.Writer, jobs []*of.SyncJob) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tTRIGGER\tSTATUS\tACCOUNTS\tFAILED\tIMPORTED\tSKIPPED\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			j.ID, j.Trigger, j.Status,
			j.AccountsProcessed, j.AccountsFailed,
			j.ImportedCount, j.SkippedCount,
			j.CreatedAt.Format(time.RFC3339))
		for _, e := range j.Errors {
			fmt.Fprintf(tw, "\t\terror: %s\n", e)
		}
	}
	tw.Flush()
}
