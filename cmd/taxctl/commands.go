package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"nytax/internal/app"
	"nytax/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// opener builds the services a command runs against.
type opener func(ctx context.Context, envFile string) (*app.Services, service.Calendar, error)

type cli struct {
	open    opener
	envFile string
	out     io.Writer
}

func rootCmd(open opener) *cobra.Command {
	c := &cli{open: open, out: os.Stdout}

	root := &cobra.Command{
		Use:           "taxctl",
		Short:         "Administer the NY sales tax service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.out = cmd.OutOrStdout()
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env", "configs/.env", "dotenv file to load before reading the environment")

	root.AddCommand(c.seedCmd())
	root.AddCommand(c.importCmd())
	root.AddCommand(c.rollbackCmd())
	root.AddCommand(c.setRateCmd())
	root.AddCommand(c.revertCmd())
	root.AddCommand(c.computeCmd())
	root.AddCommand(c.userCmd())
	return root
}

func (c *cli) services(ctx context.Context) (*app.Services, service.Calendar, error) {
	return c.open(ctx, c.envFile)
}

func (c *cli) print(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(data))
	return err
}

func (c *cli) seedCmd() *cobra.Command {
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Load reference data",
	}

	seed.AddCommand(&cobra.Command{
		Use:   "jurisdictions [file.geojson]",
		Short: "Insert jurisdictions from a GeoJSON FeatureCollection",
		Long: `Each feature needs "code", "name" and "type" (state, county, city, special) properties
and a Polygon or MultiPolygon geometry. Codes that already exist are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			svcs, _, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svcs.Jurisdictions.SeedFromGeoJSON(cmd.Context(), data, nil)
			if err != nil {
				return err
			}
			return c.print(res)
		},
	})

	seed.AddCommand(&cobra.Command{
		Use:   "rates [file.yaml]",
		Short: "Apply rate seeds through the mutation ledger",
		Long: `Example:

  rates:
    - code: "36"
      rate_percent: "4"
      effective_date: "2005-06-01"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			svcs, _, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svcs.Jurisdictions.SeedRates(cmd.Context(), data, nil)
			if err != nil {
				return err
			}
			return c.print(res)
		},
	})
	return seed
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file.csv]",
		Short: "Import a CSV of orders (lat,lon,subtotal,timestamp)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			svcs, _, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svcs.Imports.ImportBatch(cmd.Context(), filepath.Base(args[0]), data, nil)
			if err != nil {
				return err
			}
			return c.print(res)
		},
	}
}

func (c *cli) rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [import-id]",
		Short: "Delete an import and its orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid import id: %w", err)
			}
			svcs, _, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svcs.Imports.Rollback(cmd.Context(), id, nil)
			if err != nil {
				return err
			}
			return c.print(res)
		},
	}
}

func (c *cli) setRateCmd() *cobra.Command {
	var ratePercent, effective string
	cmd := &cobra.Command{
		Use:   "set-rate [jurisdiction-id]",
		Short: "Change a jurisdiction's rate from a date onward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid jurisdiction id: %w", err)
			}
			pct, err := decimal.NewFromString(ratePercent)
			if err != nil {
				return fmt.Errorf("invalid --rate: %w", err)
			}
			in, err := service.SetRateRequest{NewRate: &pct, EffectiveDate: effective}.Input(id, nil)
			if err != nil {
				return err
			}
			svcs, _, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			m, err := svcs.Rates.SetRate(cmd.Context(), in)
			if err != nil {
				return err
			}
			return c.print(service.NewMutationResponse(*m, false, true))
		},
	}
	cmd.Flags().StringVar(&ratePercent, "rate", "", "new rate in percent, e.g. 4.5")
	cmd.Flags().StringVar(&effective, "effective", "", "effective date, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("rate")
	_ = cmd.MarkFlagRequired("effective")
	return cmd
}

func (c *cli) revertCmd() *cobra.Command {
	var mutation bool
	cmd := &cobra.Command{
		Use:   "revert [jurisdiction-id]",
		Short: "Undo the newest rate change of a jurisdiction",
		Long:  "With --mutation the argument is a mutation id, which must be the newest entry of its jurisdiction.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}
			svcs, _, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			revert := svcs.Rates.RevertLastMutation
			if mutation {
				revert = svcs.Rates.RevertMutation
			}
			m, err := revert(cmd.Context(), id, nil)
			if err != nil {
				return err
			}
			return c.print(service.NewMutationResponse(*m, false, false))
		},
	}
	cmd.Flags().BoolVar(&mutation, "mutation", false, "treat the argument as a mutation id")
	return cmd
}

func (c *cli) computeCmd() *cobra.Command {
	var lat, lon float64
	var subtotal, at string
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute tax for a point without storing an order",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(subtotal)
			if err != nil {
				return fmt.Errorf("invalid --subtotal: %w", err)
			}
			svcs, calendar, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			in, err := service.ComputeTaxRequest{Lat: &lat, Lon: &lon, Subtotal: &amount, Timestamp: at}.Input(calendar)
			if err != nil {
				return err
			}
			res, err := svcs.Tax.ComputeTax(cmd.Context(), in)
			if err != nil {
				return err
			}
			return c.print(service.NewTaxResultResponse(*res))
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().StringVar(&subtotal, "subtotal", "", "order subtotal, e.g. 100.00")
	cmd.Flags().StringVar(&at, "at", "", "instant or date the rates apply at (default now)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	_ = cmd.MarkFlagRequired("subtotal")
	return cmd
}

func (c *cli) userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage operator accounts",
	}

	var req service.CreateUserRequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an admin or analyst account",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, _, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svcs.Auth.CreateUser(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.print(res)
		},
	}
	create.Flags().StringVar(&req.Username, "username", "", "login name")
	create.Flags().StringVar(&req.Email, "email", "", "email address")
	create.Flags().StringVar(&req.Password, "password", "", "password, at least 8 characters")
	create.Flags().StringVar(&req.Role, "role", "analyst", "admin or analyst")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	user.AddCommand(create)
	return user
}
