package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stemsi/bursar-backend/internal/batch"
	"github.com/stemsi/bursar-backend/internal/config"
	"github.com/stemsi/bursar-backend/internal/database"
	"github.com/stemsi/bursar-backend/internal/logger"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/repository"
)

var (
	firstNames = []string{"Tendai", "Rudo", "Farai", "Nyasha", "Tatenda", "Chipo", "Kuda", "Rumbi", "Tafadzwa", "Vimbai"}
	lastNames  = []string{"Moyo", "Ncube", "Dube", "Sibanda", "Chikwanha", "Mpofu", "Banda", "Phiri"}
	classes    = []string{"Blue", "Green", "Red"}
)

func main() {
	perGrade := flag.Int("per-grade", 30, "Students to create in every grade")
	termName := flag.String("term", "Term 1", "Name of the demo term")
	year := flag.String("year", fmt.Sprintf("%d", time.Now().Year()), "Academic year of the demo term")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	termRepo := repository.NewTermRepository(pool)
	studentRepo := repository.NewStudentRepository(pool)

	fmt.Println("=== Seeding demo term and students ===")

	// ─── Term, fee schedule and rates ──────────────────────────────────
	term := &model.Term{
		Name:         *termName,
		AcademicYear: *year,
		StartDate:    time.Date(time.Now().Year(), time.January, 10, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(time.Now().Year(), time.April, 5, 0, 0, 0, 0, time.UTC),
		Currency:     cfg.BaseCurrency,
	}
	if err := termRepo.CreateTerm(ctx, term); err != nil {
		log.Fatal().Err(err).Msg("Failed to create term")
	}
	fmt.Printf("Created term %q with ID: %d\n", term.Name, term.ID)

	if err := termRepo.UpsertExchangeRate(ctx, "ZAR", decimal.RequireFromString("0.055")); err != nil {
		log.Fatal().Err(err).Msg("Failed to store exchange rate")
	}

	for i, grade := range cfg.GradeLevels {
		step := decimal.NewFromInt(int64(i * 10))
		rows := []model.FeeScheduleRow{
			{TermID: term.ID, Grade: grade, FeeType: model.FeeTypeLevy, Currency: cfg.BaseCurrency, Amount: decimal.NewFromInt(40).Add(step)},
			{TermID: term.ID, Grade: grade, FeeType: model.FeeTypeTuition, Currency: cfg.BaseCurrency, Amount: decimal.NewFromInt(250).Add(step.Mul(decimal.NewFromInt(5)))},
		}
		// The first class of every grade pays its levy in ZAR.
		className := classes[0]
		rows = append(rows, model.FeeScheduleRow{
			TermID: term.ID, Grade: grade, ClassName: &className,
			FeeType: model.FeeTypeLevy, Currency: "ZAR", Amount: decimal.NewFromInt(800),
		})
		for j := range rows {
			if err := termRepo.UpsertFeeSchedule(ctx, &rows[j]); err != nil {
				log.Fatal().Err(err).Str("grade", grade).Msg("Failed to store fee schedule row")
			}
		}
	}

	// ─── Students ──────────────────────────────────────────────────────
	var students []*model.Student
	for _, grade := range cfg.GradeLevels {
		for n := 0; n < *perGrade; n++ {
			idx := len(students)
			students = append(students, &model.Student{
				Name:      firstNames[idx%len(firstNames)] + " " + lastNames[(idx/len(firstNames))%len(lastNames)],
				Grade:     grade,
				ClassName: classes[n%len(classes)],
				Sponsor:   "Parent",
			})
		}
	}

	outcomes := batch.Run(ctx, students, batch.Options{Workers: 8, MaxAttempts: 2, RetryDelay: 100 * time.Millisecond},
		func(ctx context.Context, st *model.Student) (int, error) {
			err := studentRepo.Create(ctx, st)
			return st.ID, err
		})

	created := 0
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Printf("Error creating student %s (grade %s): %v\n", o.Item.Name, o.Item.Grade, o.Err)
			continue
		}
		created++
	}

	// ─── Class-teacher assignments ─────────────────────────────────────
	for _, grade := range cfg.GradeLevels {
		for _, class := range classes {
			_, err := pool.Exec(ctx,
				`INSERT INTO class_teacher_assignments (class_name, teacher_name, academic_year) VALUES ($1, $2, $3)`,
				grade+" "+class, "Teacher "+grade+class, *year)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create class-teacher assignment")
			}
		}
	}

	fmt.Printf("\nSeed completed! Term %d, %d/%d students, %d class-teacher assignments.\n",
		term.ID, created, len(students), len(cfg.GradeLevels)*len(classes))
}
