package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	environment "paykit/internal/env"
	"paykit/internal/stories/subs"
)

func subsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subs",
		Short: "Manage recurring push and pull subscriptions",
	}

	cmd.AddCommand(subsCreateCmd(), subsListCmd(), subsGetCmd(), subsReportCmd())
	cmd.AddCommand(
		subsTransitionCmd("pause", "Pause a subscription", (*subs.Scheduler).Pause),
		subsTransitionCmd("resume", "Resume a paused subscription", (*subs.Scheduler).Resume),
		subsTransitionCmd("cancel", "Cancel a subscription for good", (*subs.Scheduler).Cancel),
	)
	return cmd
}

func subsCreateCmd() *cobra.Command {
	var (
		kind        string
		frequency   time.Duration
		startsAt    string
		endsAt      string
		amount      string
		currency    string
		memo        string
		maxTriggers int
	)

	cmd := &cobra.Command{
		Use:   "create [payee]",
		Short: "Create a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(amount)
			if err != nil {
				return err
			}
			params := subs.Params{
				Frequency:   frequency,
				Amount:      amt,
				Currency:    currency,
				Memo:        memo,
				MaxTriggers: maxTriggers,
			}
			if t, err := parseTime(startsAt); err != nil {
				return err
			} else if t != nil {
				params.StartsAt = *t
			}
			if t, err := parseTime(endsAt); err != nil {
				return err
			} else if t != nil {
				params.EndsAt = *t
			}

			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				sub, err := env.Services.Scheduler.Create(ctx, subs.CreateRequest{
					Kind:   subs.Kind(kind),
					Payee:  args[0],
					Params: params,
				})
				if err != nil {
					return err
				}
				printSubscription(sub)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(subs.KindPush), "push or pull")
	cmd.Flags().DurationVar(&frequency, "every", 24*time.Hour, "Trigger frequency")
	cmd.Flags().StringVar(&startsAt, "starts-at", "", "First trigger time (RFC 3339, default now)")
	cmd.Flags().StringVar(&endsAt, "ends-at", "", "End time (RFC 3339, default open-ended)")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount per trigger")
	cmd.Flags().StringVar(&currency, "currency", "", "Currency code")
	cmd.Flags().StringVar(&memo, "memo", "", "Memo passed to the backend")
	cmd.Flags().IntVar(&maxTriggers, "max-triggers", 0, "Stop after this many triggers (0 for no limit)")

	return cmd
}

func subsListCmd() *cobra.Command {
	var states []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			criteria := subs.ListCriteria{}
			for _, s := range states {
				criteria.States = append(criteria.States, subs.State(s))
			}
			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				list, err := env.Services.Scheduler.List(ctx, criteria)
				if err != nil {
					return err
				}
				for _, sub := range list {
					printSubscription(sub)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&states, "state", nil, "Filter by state (active, paused, terminated)")

	return cmd
}

func subsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show a subscription and the payment requests it produced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				sub, err := env.Services.Scheduler.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printSubscription(sub)
				for _, id := range sub.RequestIDs {
					fmt.Printf("  request %s\n", id)
				}
				return nil
			})
		},
	}
}

func subsTransitionCmd(use, short string, apply func(*subs.Scheduler, context.Context, string) (*subs.Subscription, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				sub, err := apply(env.Services.Scheduler, ctx, args[0])
				if err != nil {
					return err
				}
				printSubscription(sub)
				return nil
			})
		},
	}
}

func subsReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report [id] [secret]",
		Short: "Report a pull trigger secret and run the payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				req, err := env.Services.Scheduler.ReportPullTrigger(ctx, args[0], args[1])
				if req != nil {
					printRequest(req)
				}
				return err
			})
		},
	}
}

func printSubscription(sub *subs.Subscription) {
	fmt.Printf("%s  %-4s %-10s %s every %s triggers=%d next=%s",
		sub.ID, sub.Kind, sub.State, sub.PayeeKey(), sub.Params.Frequency, sub.TriggerCount,
		sub.NextTriggerAt.Format(time.RFC3339))
	if sub.TerminationReason != "" {
		fmt.Printf(" reason=%s", sub.TerminationReason)
	}
	fmt.Println()
}
