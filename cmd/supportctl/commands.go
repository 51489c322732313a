package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/spf13/cobra"
)

const displayTime = "2006-01-02 15:04"

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <tracking-id>",
		Short: "Show the current stage of a shipment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			status, err := a.mgr.Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("shipment %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Shipment:  %s (%s)\n", status.ShipmentID, status.Kind.Label())
			fmt.Fprintf(out, "Stage:     %s (%.0f%%)\n", status.CurrentStageName, status.ProgressPercent)
			fmt.Fprintf(out, "ETA:       %s\n", status.EstimatedCompletionAt.Local().Format(displayTime))
			fmt.Fprintln(out, "History:")
			for _, h := range status.StageHistory {
				mark := " "
				if h.Completed {
					mark = "x"
				}
				fmt.Fprintf(out, "  [%s] %-20s %s\n", mark, h.Name, h.StartedAt.Local().Format(displayTime))
			}
			return nil
		},
	}
}

func newShipmentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shipments",
		Short: "List issued shipments",
	}
	var userID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List shipments, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			var (
				shipments []models.Shipment
				err       error
			)
			if userID != "" {
				shipments, err = a.st.ListShipmentsByUser(cmd.Context(), userID)
			} else {
				shipments, err = a.st.ListShipments(cmd.Context())
			}
			if err != nil {
				return err
			}
			if len(shipments) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No shipments.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tUSER\tORDER\tSTAGE\tCREATED")
			for _, s := range shipments {
				st := a.mgr.StatusOf(s)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Kind, s.UserID, s.OrderID, st.CurrentStageName, s.CreatedAt.Local().Format(displayTime))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&userID, "user", "", "only shipments for this user id")
	cmd.AddCommand(list)
	return cmd
}

func newOrdersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Manage customer orders",
	}
	var (
		o         models.Order
		orderedAt string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register or update an order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			order := o
			order.OrderedAt = time.Now().UTC()
			if orderedAt != "" {
				t, err := time.Parse(time.RFC3339, orderedAt)
				if err != nil {
					return fmt.Errorf("invalid --ordered-at: %w", err)
				}
				order.OrderedAt = t.UTC()
			}
			if err := order.Validate(); err != nil {
				return err
			}
			if err := a.open(); err != nil {
				return err
			}
			if err := a.st.SaveOrder(cmd.Context(), order); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved order %s for user %s\n", order.OrderID, order.UserID)
			return nil
		},
	}
	f := add.Flags()
	f.StringVar(&o.OrderID, "order", "", "order id (required)")
	f.StringVar(&o.UserID, "user", "", "user id (required)")
	f.StringVar(&o.ProductID, "product", "", "product id (required)")
	f.StringVar(&o.ProductName, "name", "", "product name")
	f.StringVar(&o.Status, "status", "delivered", "order status")
	f.StringVar(&o.Price, "price", "", "display price")
	f.StringVar(&o.ContactPhone, "phone", "", "contact phone for shipment notifications")
	f.StringVar(&orderedAt, "ordered-at", "", "order time in RFC3339 (default now)")
	cmd.AddCommand(add)
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:       "export shipments|summaries",
		Short:     "Write an Excel report",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"shipments", "summaries"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			rep := a.reporter(dir)
			var (
				path string
				err  error
			)
			switch args[0] {
			case "shipments":
				path, err = rep.ExportShipments(cmd.Context())
			default:
				path, err = rep.ExportChatSummaries(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "out", "", "output directory (default <state-dir>/exports)")
	return cmd
}

func newStagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "Print the shipment stage table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := a.stages()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tSTAGE\tDURATION\tSTARTS AFTER")
			var offset time.Duration
			for i, s := range table.Stages() {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, s.Name, s.Duration, offset)
				offset += s.Duration
			}
			fmt.Fprintf(tw, "\tTotal\t%s\t\n", table.TotalDuration())
			return tw.Flush()
		},
	}
}
