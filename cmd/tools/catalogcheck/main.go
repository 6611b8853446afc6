package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/noah-isme/catalog-pricing/internal/catalog"
	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

// catalogcheck validates a catalog file and prints the qty-1 price of every
// product. It exits non-zero when the catalog has integrity issues.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	path := flag.String("file", os.Getenv("CATALOG_PATH"), "catalog JSON file")
	qty := flag.Int("qty", 1, "quantity to price each product at")
	flag.Parse()
	if *path == "" {
		log.Fatal("catalog file is required (-file or CATALOG_PATH)")
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("read catalog: %v", err)
	}
	products, err := catalog.DecodeCatalog(data)
	if err != nil {
		log.Fatalf("%v", err)
	}

	idx := pricing.NewIndex(products)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tPRICE\tCOGS\tNOTE")
	for _, p := range idx.Products() {
		res, err := pricing.ResolveProduct(idx, p, pricing.Request{ProductID: p.ID, Qty: *qty})
		note := ""
		switch {
		case err != nil:
			note = err.Error()
		case res.Degraded:
			note = "degraded estimate"
		case res.BelowMinimum:
			note = "below minimum order"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", p.ID, p.Mode, res.Price, res.Cogs, note)
	}
	_ = tw.Flush()

	verr := pricing.Validate(products)
	if verr == nil {
		fmt.Printf("\n%d products, no issues\n", idx.Len())
		return
	}
	var invalid *pricing.ValidationError
	if !errors.As(verr, &invalid) {
		log.Fatalf("validate: %v", verr)
	}
	fmt.Printf("\n%d issues:\n", len(invalid.Issues))
	for _, issue := range invalid.Issues {
		if issue.Field != "" {
			fmt.Printf("  %s.%s: %s\n", issue.ProductID, issue.Field, issue.Message)
		} else {
			fmt.Printf("  %s: %s\n", issue.ProductID, issue.Message)
		}
	}
	os.Exit(1)
}
