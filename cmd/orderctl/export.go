package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

func exportCmd() *cobra.Command {
	var (
		format string
		out    string
		limit  int
		pages  int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export processing orders as CSV or JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "csv" && format != "json" {
				return fmt.Errorf("unknown format %q (csv or json)", format)
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			repo := &orders.Repo{DB: e.db}
			exp := newExporter(w, format)
			cursor := ""
			for n := 0; pages <= 0 || n < pages; n++ {
				page, err := repo.ListByStatus(cmd.Context(), orders.StatusProcessing, cursor, limit)
				if err != nil {
					return err
				}
				if err := exp.write(page.Items); err != nil {
					return err
				}
				if !page.HasMore {
					break
				}
				cursor = page.NextCursor
			}
			return exp.flush()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format: csv or json")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 200, "page size")
	cmd.Flags().IntVar(&pages, "pages", 0, "stop after this many pages (0 = all)")
	return cmd
}

var csvHeader = []string{
	"order_id", "created_at", "user_id", "customer_name", "customer_email", "customer_phone",
	"city", "state", "postal_code", "items", "total_amount", "currency",
	"payment_method", "payment_status", "stage", "tracking_id", "last_error",
}

type exporter struct {
	format string
	csv    *csv.Writer
	json   *json.Encoder
	header bool
}

func newExporter(w io.Writer, format string) *exporter {
	e := &exporter{format: format}
	if format == "csv" {
		e.csv = csv.NewWriter(w)
	} else {
		e.json = json.NewEncoder(w)
	}
	return e
}

func (e *exporter) write(list []*orders.Order) error {
	if e.json != nil {
		for _, o := range list {
			if err := e.json.Encode(o); err != nil {
				return err
			}
		}
		return nil
	}
	if !e.header {
		if err := e.csv.Write(csvHeader); err != nil {
			return err
		}
		e.header = true
	}
	for _, o := range list {
		if err := e.csv.Write(csvRow(o)); err != nil {
			return err
		}
	}
	return nil
}

func (e *exporter) flush() error {
	if e.csv == nil {
		return nil
	}
	if !e.header {
		if err := e.csv.Write(csvHeader); err != nil {
			return err
		}
	}
	e.csv.Flush()
	return e.csv.Error()
}

func csvRow(o *orders.Order) []string {
	items := make([]string, 0, len(o.Products))
	for _, it := range o.Products {
		items = append(items, it.ProductID+"x"+strconv.Itoa(it.Quantity))
	}
	return []string{
		o.OrderID,
		o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		o.UserID,
		o.CustomerName,
		o.CustomerEmail,
		o.CustomerPhone,
		o.ShippingAddress.City,
		o.ShippingAddress.State,
		o.ShippingAddress.PostalCode,
		strings.Join(items, ";"),
		o.TotalAmount.StringFixed(2),
		o.Currency,
		string(o.PaymentMethod),
		string(o.PaymentStatus),
		string(o.Stage),
		o.TrackingID(),
		o.LastError,
	}
}
