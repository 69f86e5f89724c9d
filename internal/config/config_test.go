package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/club-ranklist/internal/config"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLoad(t *testing.T) {
	Convey("Given the config loader", t, func() {
		Convey("When nothing is configured", func() {
			cfg, err := config.Load("")

			Convey("Then defaults apply", func() {
				So(err, ShouldBeNil)
				So(cfg.LogLevel, ShouldEqual, "info")
				So(cfg.Server.Port, ShouldEqual, 8080)
				So(cfg.Server.UserHeader, ShouldEqual, "X-User-ID")
				So(cfg.Postgres.Port, ShouldEqual, 5432)
				So(cfg.Kafka.Topic, ShouldEqual, "ranklist-stats")
				So(cfg.Kafka.Brokers, ShouldResemble, []string{"localhost:9092"})
				So(cfg.Ranking.CacheTTL, ShouldEqual, 10*time.Minute)
				So(cfg.Recompute.Enabled, ShouldBeTrue)
			})
		})

		Convey("When a YAML file is given", func() {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			content := `
log_level: debug
server:
  port: 9090
  read_timeout: 2s
postgres:
  host: db.internal
  database: club
recompute:
  enabled: true
  interval: 15m
kafka:
  brokers: ["k1:9092", "k2:9092"]
`
			So(os.WriteFile(path, []byte(content), 0o600), ShouldBeNil)

			cfg, err := config.Load(path)

			Convey("Then file values override defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.LogLevel, ShouldEqual, "debug")
				So(cfg.Server.Port, ShouldEqual, 9090)
				So(cfg.Server.ReadTimeout, ShouldEqual, 2*time.Second)
				So(cfg.Server.WriteTimeout, ShouldEqual, 10*time.Second)
				So(cfg.Postgres.Host, ShouldEqual, "db.internal")
				So(cfg.Postgres.ConnectionString(), ShouldEqual, "postgres://ranklist:@db.internal:5432/club?sslmode=disable")
				So(cfg.Recompute.Enabled, ShouldBeTrue)
				So(cfg.Recompute.Interval, ShouldEqual, 15*time.Minute)
				So(cfg.Kafka.Brokers, ShouldResemble, []string{"k1:9092", "k2:9092"})
			})

			Convey("And environment variables override the file", func() {
				t.Setenv("RANKLIST_SERVER__PORT", "7070")
				t.Setenv("RANKLIST_POSTGRES__MAX_CONNECTIONS", "3")
				t.Setenv("RANKLIST_LOG_LEVEL", "warn")

				cfg, err := config.Load(path)
				So(err, ShouldBeNil)
				So(cfg.Server.Port, ShouldEqual, 7070)
				So(cfg.Postgres.MaxConnections, ShouldEqual, 3)
				So(cfg.LogLevel, ShouldEqual, "warn")
				So(cfg.Postgres.Host, ShouldEqual, "db.internal")
			})
		})

		Convey("When the file does not exist", func() {
			t.Setenv("RANKLIST_POSTGRES__HOST", "db.internal")
			t.Setenv("RANKLIST_RECOMPUTE__ENABLED", "false")
			cfg, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))

			Convey("Then the environment still applies over the defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.Postgres.Host, ShouldEqual, "db.internal")
				So(cfg.Postgres.Port, ShouldEqual, 5432)
				So(cfg.Recompute.Enabled, ShouldBeFalse)
			})
		})

		Convey("When the file exists but is not valid YAML", func() {
			path := filepath.Join(t.TempDir(), "config.yaml")
			So(os.WriteFile(path, []byte("server: [port"), 0o600), ShouldBeNil)
			_, err := config.Load(path)

			Convey("Then an error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the port is out of range", func() {
			t.Setenv("RANKLIST_SERVER__PORT", "70000")
			_, err := config.Load("")

			Convey("Then validation fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestDefaultConfig(t *testing.T) {
	Convey("DefaultConfig enables the recompute worker", t, func() {
		cfg := config.DefaultConfig()
		So(cfg.Recompute.Enabled, ShouldBeTrue)
		So(cfg.Recompute.Interval, ShouldEqual, time.Hour)

		loaded, err := config.Load("")
		So(err, ShouldBeNil)
		So(loaded, ShouldResemble, cfg)
	})
}
