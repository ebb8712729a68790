package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	environment "paykit/internal/env"
	"paykit/internal/infra/pubky"
	"paykit/internal/stories/catalog"
)

func resolveCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "resolve [payee]",
		Short: "Show the supported payments of a payee (pubky key or capability URL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payee, err := catalog.ParsePayee(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				var opts []catalog.ResolveOption
				if refresh {
					opts = append(opts, catalog.WithForceRefresh())
				}
				snapshot, err := env.Services.Resolver.Resolve(ctx, payee, payee.Scope(), opts...)
				if err != nil {
					return err
				}
				if snapshot.IsEmpty() {
					fmt.Printf("%s publishes no supported payments\n", payee)
					return nil
				}
				fmt.Printf("%s (%s scope):\n", payee, snapshot.Scope())
				for _, e := range snapshot.Entries() {
					fmt.Printf("  %-20s %s\n", e.Method, e.Endpoint)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the catalog cache")

	return cmd
}

func endpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Manage the payment endpoints published under the owner key",
	}

	var file string
	set := &cobra.Command{
		Use:   "set [method] [data]",
		Short: "Publish endpoint data for a method",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := endpointData(args, file)
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				if err := env.Services.Endpoints.SetEndpoint(ctx, catalog.MethodID(args[0]), data); err != nil {
					return err
				}
				fmt.Printf("Published %s\n", args[0])
				return nil
			})
		},
	}
	set.Flags().StringVarP(&file, "file", "f", "", "Read endpoint data from a file")

	remove := &cobra.Command{
		Use:   "remove [method]",
		Short: "Remove a method's endpoint and its catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				if err := env.Services.Endpoints.RemoveEndpoint(ctx, catalog.MethodID(args[0])); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(set, remove)
	return cmd
}

func endpointData(args []string, file string) (catalog.EndpointData, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read endpoint data: %w", err)
		}
		return data, nil
	case len(args) == 2:
		return catalog.EndpointData(args[1]), nil
	default:
		return nil, fmt.Errorf("endpoint data is required: pass it as an argument or with --file")
	}
}

func contactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List keys the owner follows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				keys, err := catalog.Contacts(ctx, env.Clients.Routing, env.Clients.Routing.Owner())
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Println(k)
				}
				return nil
			})
		},
	}
}

func inboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbox [sender]",
		Short: "Show notifications a sender left for the owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, env *environment.Env) error {
				notes, err := pubky.Inbox(ctx, env.Clients.Routing, args[0], env.Clients.Routing.Owner())
				if err != nil {
					return err
				}
				for _, n := range notes {
					fmt.Printf("%s  %-14s %s  %s\n", n.SentAt.Format("2006-01-02T15:04:05Z07:00"), n.Kind, n.CorrelationID, n.Reason)
				}
				return nil
			})
		},
	}
}
