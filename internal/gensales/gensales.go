// Package gensales writes a synthetic multi-tenant sales dataset as CSV.
// TENANT_100 gets more rows and higher amounts so tenant isolation is easy to
// verify visually in downstream demos.
package gensales

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"time"
)

// Options controls dataset generation.
type Options struct {
	Rows int
	Seed int64
	Now  time.Time
}

type tenantProfile struct {
	name       string
	weight     float64
	multiplier float64
}

var tenants = []tenantProfile{
	{name: "TENANT_100", weight: 0.45, multiplier: 2.5},
	{name: "TENANT_200", weight: 0.30, multiplier: 1.0},
	{name: "TENANT_300", weight: 0.25, multiplier: 0.8},
}

type priceRange struct {
	min, max float64
}

var productLines = []string{"Electronics", "Furniture", "Software"}

var products = map[string][]string{
	"Electronics": {
		`Laptop Pro 15"`, "Wireless Mouse", "USB-C Hub", "Mechanical Keyboard",
		"4K Monitor", "Webcam HD", "Bluetooth Speaker", "Noise-Canceling Headphones",
	},
	"Furniture": {
		"Standing Desk", "Ergonomic Chair", "Filing Cabinet", "Bookshelf",
		"Conference Table", "Office Lamp", "Whiteboard", "Monitor Arm",
	},
	"Software": {
		"Project Management Suite", "CRM License", "Analytics Platform",
		"Security Suite", "Collaboration Tools", "Design Software",
		"Database License", "Cloud Storage Plan",
	},
}

var basePrices = map[string]priceRange{
	"Electronics": {50, 2000},
	"Furniture":   {100, 3000},
	"Software":    {200, 5000},
}

var regions = []string{"North", "South", "East", "West", "EMEA"}

// Header is the CSV column order.
var Header = []string{
	"TRANS_ID", "CONTAINER_ID", "ORDER_DATE", "PRODUCT_LINE", "PRODUCT_NAME",
	"REGION", "QUANTITY", "SALES_AMOUNT", "PROFIT_MARGIN",
}

// Generate writes opts.Rows CSV records plus a header. The same seed always
// produces the same dataset.
func Generate(w io.Writer, opts Options) error {
	rows := opts.Rows
	if rows <= 0 {
		rows = 150
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i := 0; i < rows; i++ {
		tenant := pickTenant(rng)

		orderDate := now.AddDate(0, 0, -rng.Intn(366)).Format("2006-01-02")
		line := productLines[rng.Intn(len(productLines))]
		name := products[line][rng.Intn(len(products[line]))]
		region := regions[rng.Intn(len(regions))]
		quantity := 1 + rng.Intn(20)

		prices := basePrices[line]
		baseAmount := prices.min + rng.Float64()*(prices.max-prices.min)
		salesAmount := round2(baseAmount * float64(quantity) * tenant.multiplier)
		profitMargin := round2(0.10 + rng.Float64()*0.30)

		record := []string{
			fmt.Sprintf("TXN-%05d", i+1),
			tenant.name,
			orderDate,
			line,
			name,
			region,
			strconv.Itoa(quantity),
			strconv.FormatFloat(salesAmount, 'f', 2, 64),
			strconv.FormatFloat(profitMargin, 'f', 2, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func pickTenant(rng *rand.Rand) tenantProfile {
	r := rng.Float64()
	cumulative := 0.0
	for _, t := range tenants {
		cumulative += t.weight
		if r <= cumulative {
			return t
		}
	}
	return tenants[len(tenants)-1]
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
