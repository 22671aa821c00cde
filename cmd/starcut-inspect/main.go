// Command starcut-inspect examines a cutout archive: partition layout,
// schemas, and individual stored objects.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"

	"github.com/starcut/starcut/internal/archive"
)

func main() {
	var (
		root     = flag.String("archive", "", "archive root (e.g. data/starcut/galaxy_cutouts)")
		object   = flag.Int64("object", 0, "look up one object by identifier")
		healpix  = flag.Int64("partition", -1, "describe one partition by healpix key")
		showRows = flag.Bool("rows", false, "list every row of the selected partition")
	)
	flag.Parse()
	if *root == "" {
		log.Fatal("-archive is required")
	}

	ctx := context.Background()
	r := archive.NewReader(*root)

	switch {
	case *object != 0:
		inspectObject(ctx, r, *object)
	case *healpix >= 0:
		inspectPartition(ctx, r, *healpix, *showRows)
	default:
		inspectLayout(ctx, r)
	}
}

func inspectLayout(ctx context.Context, r *archive.Reader) {
	keys, err := r.Partitions()
	if err != nil {
		log.Fatalf("inspect: %v", err)
	}
	var total int64
	for _, key := range keys {
		n, err := r.RowCount(ctx, key)
		if err != nil {
			log.Fatalf("inspect: %v", err)
		}
		fmt.Printf("%s  %d rows\n", archive.PartitionPath(key), n)
		total += n
	}
	fmt.Printf("%d partitions, %d rows\n", len(keys), total)
}

func inspectPartition(ctx context.Context, r *archive.Reader, key int64, showRows bool) {
	schema, err := r.Schema(ctx, key)
	if err != nil {
		log.Fatalf("inspect: %v", err)
	}
	fmt.Printf("partition %s\n", archive.PartitionPath(key))
	for _, col := range schema.Columns {
		fmt.Printf("  %-16s %-8s %s\n", col.Name, col.SQLType, col.Description)
	}

	n, err := r.RowCount(ctx, key)
	if err != nil {
		log.Fatalf("inspect: %v", err)
	}
	fmt.Printf("%d rows\n", n)

	if showRows {
		rows, err := r.ReadPartition(ctx, key)
		if err != nil {
			log.Fatalf("inspect: %v", err)
		}
		for _, ex := range rows {
			printExample(ex)
		}
	}
}

func inspectObject(ctx context.Context, r *archive.Reader, objectID int64) {
	rows, err := r.Find(ctx, objectID)
	if err != nil {
		log.Fatalf("inspect: %v", err)
	}
	for _, ex := range rows {
		printExample(ex)
	}
}

func printExample(ex archive.Example) {
	fmt.Printf("object %d  ra=%.6f dec=%.6f healpix=%d  %dx%d px  flux[min=%.4g max=%.4g]\n",
		ex.ObjectID, ex.RA, ex.Dec, ex.Healpix, ex.Side, ex.Side, imageMin(ex.Flux), imageMax(ex.Flux))
	for name, v := range ex.Scalars {
		fmt.Printf("  %s = %v\n", name, v)
	}
}

func imageMin(img []float32) float64 {
	min := math.Inf(1)
	for _, v := range img {
		f := float64(v)
		if !math.IsNaN(f) && f < min {
			min = f
		}
	}
	return min
}

func imageMax(img []float32) float64 {
	max := math.Inf(-1)
	for _, v := range img {
		f := float64(v)
		if !math.IsNaN(f) && f > max {
			max = f
		}
	}
	return max
}
