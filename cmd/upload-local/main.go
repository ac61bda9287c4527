package main

import (
	"bytes"
	"context"
	"flag"
	"log"
	"os"
	"sync"
	"time"

	"example/bulk-upload-api/app"
	"example/bulk-upload-api/app/config"
	"example/bulk-upload-api/bulk"
)

type batchOutcome struct {
	seq     int
	batchID string
	results []bulk.Result
	err     error
}

func main() {
	var (
		object     = flag.String("object", "", "target object, e.g. Contact")
		opName     = flag.String("operation", "insert", "insert, update, upsert, delete or hardDelete")
		file       = flag.String("file", "", "CSV file to upload")
		externalID = flag.String("external-id", "", "external id field, upsert only")
		batchSize  = flag.Int("batch", 0, "records per batch (default from config)")
		tries      = flag.Int("tries", 0, "state checks per batch (default from config)")
		waitMS     = flag.Int("wait", 0, "milliseconds before each check (default from config)")
	)
	flag.Parse()

	if *object == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	start := time.Now()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *batchSize > 0 {
		cfg.Upload.BatchSize = *batchSize
	}
	if *tries > 0 {
		cfg.Upload.PollTries = *tries
	}
	if *waitMS > 0 {
		cfg.Upload.PollWaitMS = *waitMS
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	sfc, err := app.NewSalesforceClient(ctx, cfg)
	if err != nil {
		log.Fatalf("salesforce login: %v", err)
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open %s: %v", *file, err)
	}
	chunks, records, err := app.SplitCSV(f, cfg.Upload.BatchSize)
	f.Close()
	if err != nil {
		log.Fatalf("split %s: %v", *file, err)
	}
	if records == 0 {
		log.Fatalf("%s has no data rows", *file)
	}

	op := bulk.Operation(*opName)
	var job *bulk.Job
	switch op {
	case bulk.OpUpsert:
		if *externalID == "" {
			log.Fatal("upsert requires -external-id")
		}
		job, err = sfc.CreateUpsertJob(ctx, *object, *externalID, bulk.ContentTypeCSV)
	case bulk.OpInsert, bulk.OpUpdate, bulk.OpDelete, bulk.OpHardDelete:
		job, err = sfc.CreateJob(ctx, op, *object, bulk.ContentTypeCSV)
	default:
		log.Fatalf("unsupported operation %q", *opName)
	}
	if err != nil {
		log.Fatalf("create job: %v", err)
	}
	log.Printf("Created job %s for %s %s", job.ID(), *opName, *object)

	batchIDs := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		b, err := job.AddBatch(ctx, bytes.NewReader(chunk))
		if err != nil {
			log.Fatalf("add batch %d/%d: %v", i+1, len(chunks), err)
		}
		batchIDs = append(batchIDs, b.ID)
	}
	if _, err := job.Close(ctx); err != nil {
		log.Fatalf("close job: %v", err)
	}
	log.Printf("Submitted %d records in %d batches", records, len(batchIDs))

	numWorkers := app.GetWorkerCount()
	if numWorkers > len(batchIDs) {
		numWorkers = len(batchIDs)
	}
	log.Printf("Collecting %d batches with %d workers", len(batchIDs), numWorkers)

	wait := time.Duration(cfg.Upload.PollWaitMS) * time.Millisecond
	jobs := make(chan int, len(batchIDs))
	results := make(chan batchOutcome, len(batchIDs))
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			for seq := range jobs {
				batchID := batchIDs[seq]
				rows, err := job.Results(ctx, batchID, cfg.Upload.PollTries, wait)
				if err != nil {
					log.Printf("worker %d: batch %s: %v", id, batchID, err)
				}
				results <- batchOutcome{seq: seq, batchID: batchID, results: rows, err: err}
			}
		}(i)
	}

	// Feed jobs
	go func() {
		defer close(jobs)
		for seq := range batchIDs {
			jobs <- seq
		}
	}()

	// Close results once ALL workers are done
	go func() {
		wg.Wait()
		close(results)
	}()

	var done, failed, pending int
	for out := range results {
		if out.err != nil {
			pending++
			continue
		}
		done++
		for _, r := range out.results {
			if !r.Success {
				failed++
				log.Printf("batch %s: record failed: %s", out.batchID, r.Error)
			}
		}
	}

	log.Printf("Collected %d/%d batches, %d failed records, %d batches unfinished",
		done, len(batchIDs), failed, pending)
	log.Printf("Took %s", time.Since(start))

	if failed > 0 || pending > 0 {
		os.Exit(1)
	}
}
