package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type seedFile struct {
	Users []struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
		Email  string `json:"email"`
		Phone  string `json:"phone"`
	} `json:"users"`
	Products []struct {
		ProductID string          `json:"productId"`
		Name      string          `json:"name"`
		Price     decimal.Decimal `json:"price"`
	} `json:"products"`
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file.json]",
		Short: "Upsert users and products from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var sf seedFile
			if err := json.Unmarshal(raw, &sf); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()

			dir := &orders.DirectoryRepo{DB: e.db}
			for _, u := range sf.Users {
				if err := dir.UpsertUser(cmd.Context(), orders.Customer{UserID: u.UserID, Name: u.Name, Email: u.Email, Phone: u.Phone}); err != nil {
					return fmt.Errorf("user %s: %w", u.UserID, err)
				}
			}
			for _, p := range sf.Products {
				if err := dir.UpsertProduct(cmd.Context(), orders.Product{ProductID: p.ProductID, Name: p.Name, Price: p.Price}); err != nil {
					return fmt.Errorf("product %s: %w", p.ProductID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d products\n", len(sf.Users), len(sf.Products))
			return nil
		},
	}
}
