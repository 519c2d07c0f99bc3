package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
	"github.com/alipala/language-tutor-sub001/svc/subscriptions"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <user-id>",
	Short: "Reconcile one user against the billing provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *subscriptions.Service) error {
			report, err := svc.Reconciler.Reconcile(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reconcile every active and past-due user once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *subscriptions.Service) error {
			report, err := svc.Reconciler.Sweep(ctx)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d of %d users could not be reconciled", len(report.Failed), report.Total)
			}
			return nil
		})
	},
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute <user-id>",
	Short: "Recompute the practice session counter from learning progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *subscriptions.Service) error {
			report, err := svc.Usage.Recompute(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune-ledger",
	Short: "Drop processed-event entries older than LEDGER_RETENTION",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *subscriptions.Service) error {
			n, err := svc.Sweeper.Prune(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d ledger entries\n", n)
			return nil
		})
	},
}

var resetUsageFlags struct {
	actor  string
	reason string
}

var resetUsageCmd = &cobra.Command{
	Use:       "reset-usage <user-id> <practice_sessions|assessments>",
	Short:     "Reset a usage counter to zero through the audited override path",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(subscription.CounterPracticeSessions), string(subscription.CounterAssessments)},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *subscriptions.Service) error {
			rec, err := svc.Override.ResetUsage(ctx, args[0], subscription.Counter(args[1]),
				resetUsageFlags.actor, resetUsageFlags.reason)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

var overrideCmd = &cobra.Command{
	Use:   "override <user-id>",
	Short: "Apply an audited manual correction to a subscription record",
	Long: `Apply an audited manual correction to a subscription record.

Only the flags that are given change the record. Times use RFC 3339;
--started-at and --expires-at accept "none" to clear the value.`,
	Example: `  subctl override user_123 --actor ops@example.com --reason "ticket 4411" \
    --status active --period-end 2026-07-01T00:00:00Z --expires-at none`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ov, err := overrideFromFlags(cmd)
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *subscriptions.Service) error {
			rec, err := svc.Override.ApplyOverride(ctx, args[0], ov)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

func init() {
	resetUsageCmd.Flags().StringVar(&resetUsageFlags.actor, "actor", "", "operator applying the reset (required)")
	resetUsageCmd.Flags().StringVar(&resetUsageFlags.reason, "reason", "", "why the counter is reset")
	_ = resetUsageCmd.MarkFlagRequired("actor")

	registerOverrideFlags(overrideCmd)

	rootCmd.AddCommand(reconcileCmd, sweepCmd, recomputeCmd, pruneCmd, resetUsageCmd, overrideCmd)
}

func registerOverrideFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("actor", "", "operator applying the override (required)")
	f.String("reason", "", "why the override is needed")
	f.Bool("reassign", false, "allow replacing an existing billing customer mapping")

	f.String("customer", "", "billing customer reference")
	f.String("subscription", "", "billing subscription reference")
	f.String("plan", "", "plan id")
	f.String("price", "", "billing price reference")
	f.String("period", "", "billing period (monthly, annual)")
	f.String("status", "", "status (none, active, past_due, canceled)")
	f.String("period-start", "", "current period start (RFC 3339)")
	f.String("period-end", "", "current period end (RFC 3339)")
	f.String("started-at", "", `first activation time (RFC 3339 or "none")`)
	f.String("expires-at", "", `access expiry (RFC 3339 or "none")`)
	f.Int64("practice-sessions", 0, "practice sessions used")
	f.Int64("assessments", 0, "assessments used")
	_ = cmd.MarkFlagRequired("actor")
}

// overrideFromFlags builds an override from the flags that were set explicitly.
func overrideFromFlags(cmd *cobra.Command) (subscription.Override, error) {
	f := cmd.Flags()
	var (
		ov  subscription.Override
		err error
	)
	ov.Actor, _ = f.GetString("actor")
	ov.Reason, _ = f.GetString("reason")
	ov.ReassignCustomer, _ = f.GetBool("reassign")

	str := func(name string) (string, bool) {
		if !f.Changed(name) {
			return "", false
		}
		v, _ := f.GetString(name)
		return v, true
	}
	num := func(name string) (int64, bool) {
		if !f.Changed(name) {
			return 0, false
		}
		v, _ := f.GetInt64(name)
		return v, true
	}

	p := &ov.Patch
	if v, ok := str("customer"); ok {
		p.BillingCustomerRef = subscription.Set(v)
	}
	if v, ok := str("subscription"); ok {
		p.SubscriptionRef = subscription.Set(v)
	}
	if v, ok := str("plan"); ok {
		p.PlanID = subscription.Set(v)
	}
	if v, ok := str("price"); ok {
		p.PriceRef = subscription.Set(v)
	}
	if v, ok := str("period"); ok {
		p.BillingPeriod = subscription.Set(subscription.BillingPeriod(v))
	}
	if v, ok := str("status"); ok {
		p.Status = subscription.Set(subscription.SubscriptionStatus(v))
	}
	if v, ok := str("period-start"); ok {
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			return ov, fmt.Errorf("--period-start: %w", perr)
		}
		p.PeriodStart = subscription.Set(t.UTC())
	}
	if v, ok := str("period-end"); ok {
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			return ov, fmt.Errorf("--period-end: %w", perr)
		}
		p.PeriodEnd = subscription.Set(t.UTC())
	}
	if v, ok := str("started-at"); ok {
		if p.StartedAt, err = optionalTimeFlag("started-at", v); err != nil {
			return ov, err
		}
	}
	if v, ok := str("expires-at"); ok {
		if p.ExpiresAt, err = optionalTimeFlag("expires-at", v); err != nil {
			return ov, err
		}
	}
	if v, ok := num("practice-sessions"); ok {
		p.PracticeSessionsUsed = subscription.Set(v)
	}
	if v, ok := num("assessments"); ok {
		p.AssessmentsUsed = subscription.Set(v)
	}
	return ov, nil
}

func optionalTimeFlag(name, v string) (subscription.Optional[*time.Time], error) {
	if v == "none" {
		return subscription.Set[*time.Time](nil), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return subscription.Optional[*time.Time]{}, fmt.Errorf("--%s: %w", name, err)
	}
	t = t.UTC()
	return subscription.Set(&t), nil
}
