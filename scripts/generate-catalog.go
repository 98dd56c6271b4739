//go:build ignore

// Package main generates a synthetic product catalog for load testing.
// Usage: go run scripts/generate-catalog.go -docs 10000 -output testdata/catalog.jsonl
//
// The output is one JSON document per line, ready for `seekly index`.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
)

var (
	numDocs    = flag.Int("docs", 10000, "Number of documents to generate")
	outputPath = flag.String("output", "testdata/catalog.jsonl", "Output file")
	seed       = flag.Uint64("seed", 42, "Random seed for reproducibility")
	inactive   = flag.Float64("inactive", 0.05, "Fraction of documents marked inactive")
)

var (
	adjectives = []string{
		"Classic", "Compact", "Deluxe", "Ergonomic", "Lightweight",
		"Premium", "Portable", "Rugged", "Smart", "Wireless",
	}
	nouns = []string{
		"Backpack", "Chair", "Desk Lamp", "Headphones", "Jacket",
		"Keyboard", "Monitor", "Running Shoes", "Speaker", "Water Bottle",
	}
	brands = []string{
		"Acme", "Apple", "Contoso", "Globex", "Initech",
		"Nike", "Northwind", "Samsung", "Umbrella", "Vandelay",
	}
	categories = map[string]string{
		"Backpack": "Outdoor", "Chair": "Furniture", "Desk Lamp": "Furniture",
		"Headphones": "Audio", "Jacket": "Apparel", "Keyboard": "Computers",
		"Monitor": "Computers", "Running Shoes": "Sports", "Speaker": "Audio",
		"Water Bottle": "Outdoor",
	}
)

type document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Fields    map[string]string `json:"fields"`
	Relevance float64           `json:"relevance_score"`
	Active    bool              `json:"active"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewPCG(*seed, *seed))

	if err := os.MkdirAll(filepath.Dir(*outputPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", *outputPath, err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	fmt.Printf("Generating %d documents in %s...\n", *numDocs, *outputPath)
	for i := range *numDocs {
		if err := enc.Encode(generateDocument(rng, i)); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing document %d: %v\n", i, err)
			os.Exit(1)
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d documents successfully.\n", *numDocs)
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.IntN(len(pool))]
}

func generateDocument(rng *rand.Rand, index int) document {
	noun := pick(rng, nouns)
	brand := pick(rng, brands)
	return document{
		ID:      fmt.Sprintf("p%06d", index),
		Content: fmt.Sprintf("%s %s %s", brand, pick(rng, adjectives), noun),
		Fields: map[string]string{
			"brand":    brand,
			"category": categories[noun],
			"color":    pick(rng, []string{"Black", "Blue", "Green", "Red", "White"}),
		},
		Relevance: float64(rng.IntN(50)) / 10,
		Active:    rng.Float64() >= *inactive,
	}
}
