package billctl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"billing/internal/core"
)

// billFlags are the editable fields as command flags.
type billFlags struct {
	name, contact, email, amount string
}

func (f *billFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, core.FieldName, "", "Customer name")
	cmd.Flags().StringVar(&f.contact, core.FieldContact, "", "Customer contact (10 digits)")
	cmd.Flags().StringVar(&f.email, core.FieldEmail, "", "Customer email (@gmail.com)")
	cmd.Flags().StringVar(&f.amount, core.FieldAmount, "", "Amount (whole number)")
}

// apply sets the flags the user passed on top of form, trimmed the way
// the web form is.
func (f *billFlags) apply(cmd *cobra.Command, form core.FormState) core.FormState {
	for field, value := range map[string]string{
		core.FieldName:    f.name,
		core.FieldContact: f.contact,
		core.FieldEmail:   f.email,
		core.FieldAmount:  f.amount,
	} {
		if cmd.Flags().Changed(field) {
			form = form.Set(field, strings.TrimSpace(value))
		}
	}
	return form
}

func (app *App) billsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bills",
		Short: "List and change billing records",
	}
	cmd.AddCommand(
		app.listBillsCommand(),
		app.addBillCommand(),
		app.updateBillCommand(),
		app.deleteBillCommand(),
	)
	return cmd
}

func (app *App) listBillsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your bills",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client()
			if err != nil {
				return err
			}
			bills, err := client.ListBills(cmd.Context())
			if err != nil {
				return apiError("Failed to load bills", err)
			}
			return app.console.Bills(bills)
		},
	}
}

func (app *App) addBillCommand() *cobra.Command {
	var flags billFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a bill",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := flags.apply(cmd, core.NewFormState()).Input()
			if err := core.Validate(in); err != nil {
				return err
			}
			client, _, err := app.client()
			if err != nil {
				return err
			}
			ack, err := client.AddBill(cmd.Context(), in)
			if err != nil {
				return apiError("Failed to add bill", err)
			}
			if id := ack.ID(); id != "" {
				app.console.Success("Bill added successfully! (id %s)", BoldCyan(id))
				return nil
			}
			app.console.Success("Bill added successfully!")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// updateBillCommand starts from the stored record, so only the flags given
// change. The result is validated like a new bill.
func (app *App) updateBillCommand() *cobra.Command {
	var flags billFlags
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a bill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, _, err := app.client()
			if err != nil {
				return err
			}
			bills, err := client.ListBills(ctx)
			if err != nil {
				return apiError("Failed to load bill", err)
			}
			form := core.NewFormState()
			found := false
			for _, b := range bills {
				if b.ID == args[0] {
					form, found = form.Edit(b), true
					break
				}
			}
			if !found {
				return fmt.Errorf("bill %s not found", args[0])
			}

			form = flags.apply(cmd, form)
			in := form.Input()
			if err := core.Validate(in); err != nil {
				return err
			}
			if _, err := client.UpdateBill(ctx, form.EditingID, in); err != nil {
				return apiError("Failed to update bill", err)
			}
			app.console.Success("Bill updated successfully!")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func (app *App) deleteBillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a bill",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client()
			if err != nil {
				return err
			}
			ok, err := app.confirm(cmd, "Are you sure you want to delete this bill?")
			if err != nil || !ok {
				return err
			}
			if _, err := client.DeleteBill(cmd.Context(), args[0]); err != nil {
				return apiError("Failed to delete bill", err)
			}
			app.console.Success("Bill deleted successfully!")
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func (app *App) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show customer, bill and amount totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, _, err := app.client()
			if err != nil {
				return err
			}
			stats, err := client.UserStats(ctx)
			if err != nil {
				if errors.Is(err, ErrNotLoggedIn) {
					return err
				}
				bills, lerr := client.ListBills(ctx)
				if lerr != nil {
					return apiError("Failed to load statistics", err)
				}
				stats = core.ComputeStats(bills)
			}
			return app.console.Stats(stats)
		},
	}
}

func (app *App) chartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chart",
		Short: "Chart the total amount by customer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client()
			if err != nil {
				return err
			}
			bills, err := client.ListBills(cmd.Context())
			if err != nil {
				return apiError("Failed to load chart", err)
			}
			return app.console.Chart(core.Aggregate(bills))
		},
	}
}
