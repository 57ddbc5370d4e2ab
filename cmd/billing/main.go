// Command billing runs or inspects a term billing run from the shell, for
// remediation when the HTTP boundary is not an option.
//
//	billing -term 3                       bill every active student
//	billing -term 3 -students 12,40,3412  bill only these students
//	billing -run <uuid> -export run.xlsx  write a stored run report
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/stemsi/bursar-backend/internal/cache"
	"github.com/stemsi/bursar-backend/internal/config"
	"github.com/stemsi/bursar-backend/internal/database"
	"github.com/stemsi/bursar-backend/internal/logger"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/report"
	"github.com/stemsi/bursar-backend/internal/repository"
	"github.com/stemsi/bursar-backend/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	termID := flag.Int("term", 0, "Term to bill")
	studentList := flag.String("students", "", "Comma-separated student ids to bill instead of every active student")
	runFlag := flag.String("run", "", "Idempotency key of the run; with -export and no -term, the run to export")
	exportPath := flag.String("export", "", "Write the run report as xlsx to this path")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ids, err := parseIDs(*studentList)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}
	var runID uuid.UUID
	if *runFlag != "" {
		if runID, err = uuid.Parse(*runFlag); err != nil {
			fmt.Fprintln(os.Stderr, "Error: -run must be a UUID")
			return 2
		}
	}
	if *termID <= 0 && (runID == uuid.Nil || *exportPath == "") {
		flag.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	studentRepo := repository.NewStudentRepository(pool)
	billing := service.NewBillingService(
		repository.NewTermRepository(pool),
		studentRepo,
		repository.NewChargeRepository(pool),
		repository.NewBillingRunRepository(pool),
		cache.NewRedisLocker(rdb, log),
		cache.NewRedisProgress(rdb, log),
		cfg,
		log,
	)

	exitCode := 0
	if *termID > 0 {
		result, err := billing.BillTerm(ctx, service.BillTermRequest{
			TermID:     *termID,
			StudentIDs: ids,
			RunID:      runID,
		})
		if result != nil {
			printResult(result)
			runID = result.RunID
			if result.Status != model.RunStatusCompleted {
				exitCode = 1
			}
		}
		if err != nil {
			var fatal *service.FatalBatchError
			if errors.As(err, &fatal) {
				log.Error().Err(fatal.Err).Str("stage", fatal.Stage).Msg("Billing run aborted")
			} else {
				log.Error().Err(err).Msg("Billing run rejected")
			}
			if result == nil {
				return 1
			}
			exitCode = 1
		}
	}

	if *exportPath != "" {
		if err := export(ctx, billing, runID, *exportPath); err != nil {
			log.Fatal().Err(err).Str("run_id", runID.String()).Msg("Failed to export billing run")
		}
		fmt.Printf("Wrote %s\n", *exportPath)
	}

	return exitCode
}

func export(ctx context.Context, billing *service.BillingService, runID uuid.UUID, path string) error {
	run, err := billing.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	f, err := report.BillingRunWorkbook(run)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

func printResult(result *model.BillingResult) {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", *result)
		return
	}
	fmt.Println(string(out))

	if failed := result.ErrorIDs(); len(failed) > 0 {
		parts := make([]string, len(failed))
		for i, id := range failed {
			parts[i] = strconv.Itoa(id)
		}
		fmt.Fprintf(os.Stderr, "\nRetry the failed students with:\n  billing -term %d -students %s\n",
			result.TermID, strings.Join(parts, ","))
	}
}

func parseIDs(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid student id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
