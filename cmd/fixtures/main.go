package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/club-ranklist/internal/config"
	"github.com/club-ranklist/internal/domain"
	"github.com/club-ranklist/internal/kafka"
	"github.com/club-ranklist/internal/postgres"
	"github.com/club-ranklist/internal/service"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type fixtureFile struct {
	Users     []fixtureUser     `yaml:"users"`
	Events    []fixtureEvent    `yaml:"events"`
	RankLists []fixtureRankList `yaml:"ranklists"`
	Stats     []fixtureStat     `yaml:"stats"`
}

type fixtureUser struct {
	ID       int64  `yaml:"id"`
	Username string `yaml:"username"`
	Handle   string `yaml:"handle"`
}

type fixtureEvent struct {
	ID                int64     `yaml:"id"`
	Title             string    `yaml:"title"`
	StartTime         time.Time `yaml:"start_time"`
	Weight            *float64  `yaml:"weight"`
	OpenForAttendance bool      `yaml:"open_for_attendance"`
	StrictAttendance  bool      `yaml:"strict_attendance"`
}

type fixtureRankList struct {
	ID                       int64                  `yaml:"id"`
	Keyword                  string                 `yaml:"keyword"`
	Description              string                 `yaml:"description"`
	WeightOfUpsolve          float64                `yaml:"weight_of_upsolve"`
	ConsiderStrictAttendance bool                   `yaml:"consider_strict_attendance"`
	Inactive                 bool                   `yaml:"inactive"`
	Events                   []fixtureRankListEvent `yaml:"events"`
	Members                  []int64                `yaml:"members"`
}

type fixtureRankListEvent struct {
	ID     int64    `yaml:"id"`
	Weight *float64 `yaml:"weight"`
}

type fixtureStat struct {
	Kind          string `yaml:"kind"`
	UserID        int64  `yaml:"user_id"`
	EventID       int64  `yaml:"event_id"`
	SolveCount    int    `yaml:"solve_count"`
	UpsolveCount  int    `yaml:"upsolve_count"`
	Participation *bool  `yaml:"participation"`
}

func (s fixtureStat) record() domain.StatRecord {
	kind := s.Kind
	if kind == "" {
		kind = domain.RecordKindSolveStat
	}
	return domain.StatRecord{
		Kind:          kind,
		UserID:        s.UserID,
		EventID:       s.EventID,
		SolveCount:    s.SolveCount,
		UpsolveCount:  s.UpsolveCount,
		Participation: s.Participation,
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	fixturePath := flag.String("file", "testdata/fixtures.yaml", "Fixture file to load")
	publish := flag.Bool("publish", false, "Publish stats to Kafka instead of writing them directly")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if path, ok := config.LookupEnvFile(); ok {
		if err := godotenv.Load(path); err != nil {
			logger.Warn("failed to load env file", "path", path, "error", err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	fixtures, err := readFixtures(*fixturePath)
	if err != nil {
		logger.Error("failed to read fixtures", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	if err := loadCatalog(ctx, repo, fixtures); err != nil {
		logger.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	logger.Info("catalog loaded",
		"users", len(fixtures.Users),
		"events", len(fixtures.Events),
		"ranklists", len(fixtures.RankLists),
	)

	records := make([]domain.StatRecord, 0, len(fixtures.Stats))
	for _, s := range fixtures.Stats {
		records = append(records, s.record())
	}

	if *publish {
		publisher, err := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Error("failed to create producer", "error", err)
			os.Exit(1)
		}
		for _, rec := range records {
			if err := publisher.Publish(rec); err != nil {
				logger.Warn("failed to publish record", "error", err)
			}
		}
		sent, failed := publisher.Close()
		logger.Info("stats published", "topic", cfg.Kafka.Topic, "sent", sent, "failed", failed)
		return
	}

	ingest := service.NewIngestService(repo, nil, nil, nil, logger)
	summary, err := ingest.IngestBatch(ctx, domain.IngestBatch{Records: records})
	if err != nil {
		logger.Error("failed to ingest stats", "error", err)
		os.Exit(1)
	}

	rankLists := service.NewRankListService(repo, nil, nil, nil, logger)
	recomputed, err := rankLists.RecomputeAll(ctx)
	if err != nil {
		logger.Error("failed to recompute scores", "error", err)
		os.Exit(1)
	}

	logger.Info("stats loaded",
		"solve_stats", summary.SolveStats,
		"attendances", summary.Attendances,
		"rejected", summary.Rejected,
		"members_scored", recomputed.Members,
	)
}

func readFixtures(path string) (*fixtureFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture file: %w", err)
	}
	var fixtures fixtureFile
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("parsing fixture file: %w", err)
	}
	return &fixtures, nil
}

func loadCatalog(ctx context.Context, repo *postgres.Repository, f *fixtureFile) error {
	for _, u := range f.Users {
		if err := repo.UpsertUser(ctx, domain.User{ID: u.ID, Username: u.Username, Handle: u.Handle}); err != nil {
			return err
		}
	}

	for _, e := range f.Events {
		weight := domain.DefaultEventWeight
		if e.Weight != nil {
			weight = *e.Weight
		}
		event := domain.Event{
			ID:                e.ID,
			Title:             e.Title,
			StartTime:         e.StartTime,
			Weight:            weight,
			OpenForAttendance: e.OpenForAttendance,
			StrictAttendance:  e.StrictAttendance,
		}
		if err := repo.UpsertEvent(ctx, event); err != nil {
			return err
		}
	}

	for _, rl := range f.RankLists {
		rankList := domain.RankList{
			ID:                       rl.ID,
			Keyword:                  rl.Keyword,
			Description:              rl.Description,
			WeightOfUpsolve:          rl.WeightOfUpsolve,
			ConsiderStrictAttendance: rl.ConsiderStrictAttendance,
			IsActive:                 !rl.Inactive,
		}
		if err := repo.UpsertRankList(ctx, rankList); err != nil {
			return err
		}
		for _, ev := range rl.Events {
			if err := repo.AttachEvent(ctx, rl.ID, ev.ID, ev.Weight); err != nil {
				return err
			}
		}
		for _, userID := range rl.Members {
			if _, err := repo.AddMember(ctx, userID, rl.ID); err != nil {
				return err
			}
		}
	}

	return repo.SyncSequences(ctx)
}
