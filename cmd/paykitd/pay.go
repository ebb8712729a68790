package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	environment "paykit/internal/env"
	"paykit/internal/stories/catalog"
	"paykit/internal/stories/ledger"
	"paykit/internal/stories/payment"
)

func payCmd() *cobra.Command {
	var (
		correlationID string
		amount        string
		currency      string
		memo          string
	)

	cmd := &cobra.Command{
		Use:   "pay [payee]",
		Short: "Pay a payee through the first method that works",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payee, err := catalog.ParsePayee(args[0])
			if err != nil {
				return err
			}
			amt, err := parseAmount(amount)
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				req, err := env.Services.Payments.Pay(ctx, &payment.Request{
					CorrelationID: correlationID,
					Payee:         payee,
					Amount:        amt,
					Currency:      currency,
					Memo:          memo,
				})
				if req != nil {
					printRequest(req)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&correlationID, "id", "", "Correlation ID (generated when empty)")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount to pay")
	cmd.Flags().StringVar(&currency, "currency", "", "Currency code")
	cmd.Flags().StringVar(&memo, "memo", "", "Memo passed to the backend")

	return cmd
}

func parseAmount(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func printRequest(req *payment.Request) {
	out := req.Outcome()
	fmt.Printf("%s: %s", req.CorrelationID, out.Status)
	if out.Candidate != nil {
		fmt.Printf(" via %s", out.Candidate.Method)
	}
	if out.Receipt != nil {
		fmt.Printf(" (reference %s)", out.Receipt.Reference)
	}
	if out.Reason != "" {
		fmt.Printf(": %s", out.Reason)
	}
	fmt.Println()
	for _, a := range req.Attempts() {
		fmt.Printf("  #%d %-20s try=%d %-9s %s\n", a.Seq, a.Method, a.Try, a.State, a.Reason)
	}
}

type ledgerFlags struct {
	from, to      string
	kind          string
	status        string
	method        string
	correlationID string
	payee         string
	limit         int
	offset        int
}

// filter turns the flags into a ledger filter. A capability URL given as
// payee is reduced to its public key, which is what the ledger stores.
func (fl ledgerFlags) filter() (ledger.Filter, error) {
	f := ledger.Filter{Limit: fl.limit, Offset: fl.offset}
	var err error
	if f.From, err = parseTime(fl.from); err != nil {
		return f, err
	}
	if f.To, err = parseTime(fl.to); err != nil {
		return f, err
	}
	if fl.kind != "" {
		k := ledger.Kind(fl.kind)
		f.Kind = &k
	}
	if fl.status != "" {
		s := ledger.Status(fl.status)
		f.Status = &s
	}
	if fl.method != "" {
		m := fl.method
		f.Method = &m
	}
	if fl.correlationID != "" {
		id := fl.correlationID
		f.CorrelationID = &id
	}
	if fl.payee != "" {
		payee, err := catalog.ParsePayee(fl.payee)
		if err != nil {
			return f, err
		}
		key := payee.PublicKey()
		f.Payee = &key
	}
	return f, nil
}

func ledgerCmd() *cobra.Command {
	var fl ledgerFlags

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query recorded payments and subscription triggers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := fl.filter()
			if err != nil {
				return err
			}

			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				records, err := env.Services.Ledger.Query(ctx, f)
				if err != nil {
					return err
				}
				for _, r := range records {
					fmt.Printf("%s  %-20s %-10s %-36s %s %s %s\n",
						r.RecordedAt.Format(time.RFC3339), r.Kind, r.Status, r.CorrelationID,
						r.Method, r.Amount.Decimal.String(), r.Currency)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&fl.from, "from", "", "Earliest record time (RFC 3339)")
	cmd.Flags().StringVar(&fl.to, "to", "", "Latest record time (RFC 3339)")
	cmd.Flags().StringVar(&fl.kind, "kind", "", "payment or subscription_trigger")
	cmd.Flags().StringVar(&fl.status, "status", "", "Record status")
	cmd.Flags().StringVar(&fl.method, "method", "", "Payment method that settled the record")
	cmd.Flags().StringVar(&fl.correlationID, "id", "", "Correlation ID")
	cmd.Flags().StringVar(&fl.payee, "payee", "", "Payee public key or capability URL")
	cmd.Flags().IntVarP(&fl.limit, "limit", "n", 50, "Maximum records")
	cmd.Flags().IntVar(&fl.offset, "offset", 0, "Records to skip")

	return cmd
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return &t, nil
}
