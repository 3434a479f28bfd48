package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/locale"
	"github.com/spf13/cobra"
)

func servicesCmd(configPath *string) *cobra.Command {
	var mine bool

	cmd := &cobra.Command{
		Use:   "services",
		Short: "List open service requests, or your own with --mine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.requireSession()
			if err != nil {
				return err
			}

			var items []domain.ServiceItem
			if mine {
				items, err = a.backend.MyServices(ctx, token)
			} else {
				items, err = a.backend.AvailableServices(ctx, token)
			}
			if err != nil {
				return a.userError(ctx, err, locale.ServerError)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), a.catalog.Lookup(locale.ServicesEmpty))
				return nil
			}
			return printServices(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "list requests assigned to you")

	cmd.AddCommand(serviceShowCmd(configPath), serviceOfferCmd(configPath), serviceFinalizeCmd(configPath))
	return cmd
}

func printServices(w io.Writer, items []domain.ServiceItem) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\n", item.ID(), item.Status())
	}
	return tw.Flush()
}

func serviceShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show every field of one service request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.requireSession()
			if err != nil {
				return err
			}
			item, err := a.backend.Service(ctx, token, args[0])
			if err != nil {
				return a.userError(ctx, err, locale.ServerError)
			}

			keys := make([]string, 0, len(item))
			for k := range item {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, k := range keys {
				fmt.Fprintf(tw, "%s\t%v\n", k, item[k])
			}
			return tw.Flush()
		},
	}
}

func serviceOfferCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "offer <id> <value>",
		Short: "Send a price offer for a service request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.requireSession()
			if err != nil {
				return err
			}
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return a.userError(ctx, domain.ErrInvalidInput, locale.OfferInvalid)
			}
			msg, err := a.backend.SendOffer(ctx, token, domain.Offer{ServiceID: args[0], Value: value})
			if err != nil {
				return a.userError(ctx, err, locale.OfferInvalid)
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.catalog.Or(msg, locale.OfferSent))
			return nil
		},
	}
}

func serviceFinalizeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <id>",
		Short: "Mark a service request as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.requireSession()
			if err != nil {
				return err
			}
			msg, err := a.backend.FinalizeService(ctx, token, args[0])
			if err != nil {
				return a.userError(ctx, err, locale.ServerError)
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.catalog.Or(msg, locale.ServiceFinalized))
			return nil
		},
	}
}
