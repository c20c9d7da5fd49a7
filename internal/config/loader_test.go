package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/okian/gavel/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
				convey.So(cfg.JudgmentURL, convey.ShouldEqual, "")
				convey.So(cfg.JudgmentTimeoutS, convey.ShouldEqual, 20)
				convey.So(cfg.JudgmentQueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.SubscriberBuffer, convey.ShouldEqual, 256)
				convey.So(cfg.ComboWindowS, convey.ShouldEqual, 30)
				convey.So(cfg.PhaseLimitsS["opening_statements"], convey.ShouldEqual, 120)
				convey.So(cfg.PhaseLimitsS["evidence_presentation"], convey.ShouldEqual, 180)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("GAVEL_ADDR", ":8080")
			_ = os.Setenv("GAVEL_LOG_LEVEL", "debug")
			_ = os.Setenv("GAVEL_JUDGMENT_URL", "http://jury.local/judge")
			_ = os.Setenv("GAVEL_JUDGMENT_TIMEOUT_S", "45")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.JudgmentURL, convey.ShouldEqual, "http://jury.local/judge")
				convey.So(cfg.JudgmentTimeoutS, convey.ShouldEqual, 45)
				convey.So(cfg.JudgmentTimeout(), convey.ShouldEqual, 45*time.Second)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			yamlContent := `
addr: ":9090"
judgment_queue_size: 128
phase_limits_s:
  opening_statements: 60
  closing_arguments: 90
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("GAVEL_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should load from the YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.JudgmentQueueSize, convey.ShouldEqual, 128)
				convey.So(cfg.PhaseLimitsS["opening_statements"], convey.ShouldEqual, 60)
				convey.So(cfg.PhaseLimitsS["closing_arguments"], convey.ShouldEqual, 90)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
judgment_queue_size: 128
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("GAVEL_CONFIG", tmpFile)
			_ = os.Setenv("GAVEL_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then environment variables should win over file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")          // Overridden by env
				convey.So(cfg.JudgmentQueueSize, convey.ShouldEqual, 128) // From file
			})
		})

		convey.Convey("When loading config with a non-existent file", func() {
			_ = os.Setenv("GAVEL_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an empty addr", func() {
			_ = os.Setenv("GAVEL_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the phase limit table names an unknown phase", func() {
			yamlContent := `
phase_limits_s:
  recess: 60
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("GAVEL_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "unknown phase")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the YAML file overrides the scoring tables", func() {
			yamlContent := `
base_points:
  argument: 70
  strong_argument: 150
combo_steps:
  argument: 0.25
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("GAVEL_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then the tables are loaded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.BasePoints["argument"], convey.ShouldAlmostEqual, 70)
				convey.So(cfg.BasePoints["strong_argument"], convey.ShouldAlmostEqual, 150)
				convey.So(cfg.ComboSteps["argument"], convey.ShouldAlmostEqual, 0.25)
			})
		})

		convey.Convey("When a base point value is negative", func() {
			yamlContent := `
base_points:
  argument: -10
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("GAVEL_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "base points must not be negative")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the subscriber buffer is not positive", func() {
			_ = os.Setenv("GAVEL_SUBSCRIBER_BUFFER", "0")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "subscriber_buffer must be positive")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a phase limit is not positive", func() {
			yamlContent := `
phase_limits_s:
  opening_statements: 0
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("GAVEL_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "must be positive")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"GAVEL_CONFIG",
		"GAVEL_ADDR",
		"GAVEL_LOG_LEVEL",
		"GAVEL_JUDGMENT_URL",
		"GAVEL_JUDGMENT_TIMEOUT_S",
		"GAVEL_JUDGMENT_QUEUE_SIZE",
		"GAVEL_SUBSCRIBER_BUFFER",
		"GAVEL_COMBO_WINDOW_S",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "gavel-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
