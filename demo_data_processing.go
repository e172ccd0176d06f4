package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"oee-platform/internal/models"
	"oee-platform/internal/parser"
	"oee-platform/pkg/logging"
)

// Demonstrates spreadsheet normalization without a database
func main() {
	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Println("OEE PLATFORM - INGESTION DEMONSTRATION")
	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Println()

	if len(os.Args) < 2 {
		fmt.Println("Usage: go run demo_data_processing.go <spreadsheet.csv|.xlsx> ...")
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("demo", "1.0.0", logging.InfoLevel)
	ctx := context.Background()

	totalRecords := 0
	skippedRows := 0

	for _, filePath := range os.Args[1:] {
		fileName := filepath.Base(filePath)

		data, err := os.ReadFile(filePath)
		if err != nil {
			fmt.Printf("Error reading %s: %v\n", fileName, err)
			continue
		}

		result, err := parser.Parse(data, fileName, time.Now().UTC())
		if err != nil {
			logger.Error(ctx, "[DEMO_PARSE_ERROR] File could not be parsed", logging.Fields{
				"file": fileName,
			}, err)
			continue
		}

		totalRecords += len(result.Records)
		skippedRows += len(result.RowErrors)

		fmt.Printf("File: %s\n", fileName)
		fmt.Printf("  Strategy: %s\n", result.Strategy)
		fmt.Printf("  Records:  %d (skipped %d rows)\n", len(result.Records), len(result.RowErrors))

		for i, rec := range result.Preview {
			fmt.Printf("  Preview %d: %s\n", i+1, formatRecord(rec))
		}
		fmt.Println()
	}

	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Printf("Total records: %d, skipped rows: %d\n", totalRecords, skippedRows)
}

func formatRecord(rec *models.ProductionRecord) string {
	return fmt.Sprintf("%s | %s on %s | part %s | good %d / reject %d | run %.0fm down %.0fm",
		rec.Date.Format("2006-01-02"),
		rec.Operator,
		rec.Machine,
		rec.PartNumber,
		rec.GoodCount,
		rec.RejectCount,
		rec.RunTimeMin,
		rec.DowntimeMin,
	)
}
