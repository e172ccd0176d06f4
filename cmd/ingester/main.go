package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"oee-platform/internal/config"
	"oee-platform/internal/repository"
	"oee-platform/internal/services"
	"oee-platform/pkg/database"
	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

func main() {
	// Parse command-line flags
	dataDir := flag.String("data-dir", "", "Directory of production spreadsheets (.csv/.xlsx), one report per file")
	filePath := flag.String("file", "", "Single production spreadsheet to ingest")
	calculate := flag.Bool("calculate", false, "Calculate OEE metrics after ingestion")
	flag.Parse()

	if *dataDir == "" && *filePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: ingester (-data-dir <dir> | -file <path>) [-calculate]")
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("oee-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting production data ingestion", logging.Fields{
		"version":   "1.0.0",
		"data_dir":  *dataDir,
		"file":      *filePath,
		"calculate": *calculate,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("oee_ingester")

	// Initialize database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repository and services
	repo := repository.NewOeeRepository(db, logger, metricsCollector)
	ingestionService := services.NewIngestionService(repo, logger, metricsCollector)
	calcService := services.NewCalculationService(repo, logger, metricsCollector)

	files, err := collectFiles(*dataDir, *filePath)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to list input files", logging.Fields{
			"data_dir": *dataDir,
		}, err)
	}
	if len(files) == 0 {
		fmt.Println("No .csv or .xlsx files found")
		return
	}

	totalRecords := 0
	totalSkipped := 0
	failedFiles := 0
	reportIDs := make([]int64, 0, len(files))

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error(ctx, "[INGESTER_ERROR] Failed to read file", logging.Fields{
				"file": path,
			}, err)
			failedFiles++
			continue
		}

		result, err := ingestionService.IngestReport(ctx, data, filepath.Base(path))
		if err != nil {
			logger.Error(ctx, "[INGESTION_ERROR] File rejected", logging.Fields{
				"file": path,
			}, err)
			failedFiles++
			continue
		}

		totalRecords += result.Records
		totalSkipped += len(result.RowErrors)
		reportIDs = append(reportIDs, result.Report.ID)

		fmt.Printf("%-50s report %d, %d records (%s), %d rows skipped\n",
			filepath.Base(path), result.Report.ID, result.Records, result.Strategy, len(result.RowErrors))
	}

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Files Ingested:   %d\n", len(reportIDs))
	fmt.Printf("Files Failed:     %d\n", failedFiles)
	fmt.Printf("Total Records:    %d\n", totalRecords)
	fmt.Printf("Rows Skipped:     %d\n", totalSkipped)

	// Calculate metrics if requested
	if *calculate && len(reportIDs) > 0 {
		fmt.Println("\n" + strings.Repeat("=", 80))
		fmt.Println("CALCULATING OEE METRICS")
		fmt.Println(strings.Repeat("=", 80))

		for _, reportID := range reportIDs {
			calcResult, err := calcService.CalculateReport(ctx, reportID)
			if err != nil {
				logger.Error(ctx, "[CALC_ERROR] Calculation failed", logging.Fields{
					"report_id": reportID,
				}, err)
				fmt.Printf("Report %d: calculation failed: %v\n", reportID, err)
				continue
			}

			fmt.Printf("Report %d: %d runs computed, %d missing rates\n",
				reportID, calcResult.Computed, calcResult.MissingRates)
			for _, id := range calcResult.MissingRateIdentifiers {
				fmt.Printf("  missing rate: %s\n", id)
			}
		}
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed", logging.Fields{
		"files_ingested": len(reportIDs),
		"files_failed":   failedFiles,
		"total_records":  totalRecords,
		"rows_skipped":   totalSkipped,
	})
}

// collectFiles resolves the input set from the -data-dir and -file flags
func collectFiles(dataDir, filePath string) ([]string, error) {
	files := make([]string, 0)

	if filePath != "" {
		files = append(files, filePath)
	}

	if dataDir != "" {
		entries, err := os.ReadDir(dataDir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(entry.Name())) {
			case ".csv", ".xlsx":
				files = append(files, filepath.Join(dataDir, entry.Name()))
			}
		}
	}

	return files, nil
}
