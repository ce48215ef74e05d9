package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  port: "8080"
  metrics_port: "9090"

dispatch:
  min_score_fraction: 0.8
  soft_time_limit: "20s"
  visibility_timeout: "45s"
  policy: "threshold"
  max_retry_backoff: "2m"

logging:
  level: "debug"
  format: "json"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(config).NotTo(BeNil())

				Expect(config.Server.Port).To(Equal("8080"))
				Expect(config.Server.MetricsPort).To(Equal("9090"))

				Expect(config.Dispatch.MinScoreFraction).To(Equal(0.8))
				Expect(config.Dispatch.SoftTimeLimit).To(Equal(20 * time.Second))
				Expect(config.Dispatch.VisibilityTimeout).To(Equal(45 * time.Second))
				Expect(config.Dispatch.Policy).To(Equal("threshold"))
				Expect(config.Dispatch.MaxRetryBackoff).To(Equal(2 * time.Minute))

				Expect(config.Logging.Level).To(Equal("debug"))
				Expect(config.Logging.Format).To(Equal("json"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
server:
  port: "3000"
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Server.Port).To(Equal("3000"))
				Expect(config.Server.MetricsPort).To(Equal("9090"))
				Expect(config.Dispatch.MinScoreFraction).To(Equal(0.7))
				Expect(config.Dispatch.Policy).To(Equal("score_load"))
				Expect(config.Logging.Level).To(Equal("info"))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  port: "8080"
  invalid_yaml: [
dispatch:
  policy: "score_load"
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when dispatch policy is unsupported", func() {
			BeforeEach(func() {
				invalidPolicyConfig := `
server:
  port: "8080"
dispatch:
  policy: "round_robin"
`
				err := os.WriteFile(configFile, []byte(invalidPolicyConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported dispatch policy"))
			})
		})
	})

	Describe("validate", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{
				Server: ServerConfig{Port: "8080", MetricsPort: "9090"},
				Dispatch: DispatchConfig{
					MinScoreFraction: 0.7,
					Policy:           "score_load",
				},
				Logging: LoggingConfig{Level: "info", Format: "json"},
			}
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				Expect(validate(config)).NotTo(HaveOccurred())
			})
		})

		Context("when min_score_fraction is out of range", func() {
			It("rejects a value above 1.0", func() {
				config.Dispatch.MinScoreFraction = 1.5
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("between 0.0 and 1.0"))
			})

			It("rejects a negative value", func() {
				config.Dispatch.MinScoreFraction = -0.1
				err := validate(config)
				Expect(err).To(HaveOccurred())
			})
		})

		Context("when server port is empty", func() {
			It("should return validation error", func() {
				config.Server.Port = ""
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("server port is required"))
			})
		})
	})

	Describe("loadFromEnv", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{}
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("SERVER_PORT", "3000")
				os.Setenv("METRICS_PORT", "9999")
				os.Setenv("DISPATCH_MIN_SCORE_FRACTION", "0.65")
				os.Setenv("DISPATCH_POLICY", "threshold")
				os.Setenv("DISPATCH_SOFT_TIME_LIMIT", "10s")
				os.Setenv("DISPATCH_VISIBILITY_TIMEOUT", "25s")
				os.Setenv("LOG_LEVEL", "debug")
			})

			It("should load values from environment", func() {
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Server.Port).To(Equal("3000"))
				Expect(config.Server.MetricsPort).To(Equal("9999"))
				Expect(config.Dispatch.MinScoreFraction).To(Equal(0.65))
				Expect(config.Dispatch.Policy).To(Equal("threshold"))
				Expect(config.Dispatch.SoftTimeLimit).To(Equal(10 * time.Second))
				Expect(config.Dispatch.VisibilityTimeout).To(Equal(25 * time.Second))
				Expect(config.Logging.Level).To(Equal("debug"))
			})
		})

		Context("when DISPATCH_MIN_SCORE_FRACTION is malformed", func() {
			BeforeEach(func() {
				os.Setenv("DISPATCH_MIN_SCORE_FRACTION", "not-a-float")
			})

			It("should return an error", func() {
				err := loadFromEnv(config)
				Expect(err).To(HaveOccurred())
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				originalConfig := *config
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())
				Expect(*config).To(Equal(originalConfig))
			})
		})
	})

	Describe("Watch", func() {
		It("reloads the dispatch tunables when the file changes", func() {
			initial := `
server:
  port: "8080"
dispatch:
  policy: "score_load"
  min_score_fraction: 0.7
`
			Expect(os.WriteFile(configFile, []byte(initial), 0644)).To(Succeed())

			cfg, err := Load(configFile)
			Expect(err).NotTo(HaveOccurred())

			changed := make(chan DispatchConfig, 1)
			stop := make(chan struct{})
			defer close(stop)

			Expect(cfg.Watch(stop, func(d DispatchConfig) { changed <- d }, func(error) {})).To(Succeed())

			updated := `
server:
  port: "8080"
dispatch:
  policy: "threshold"
  min_score_fraction: 0.9
`
			Expect(os.WriteFile(configFile, []byte(updated), 0644)).To(Succeed())

			Eventually(changed, "2s").Should(Receive(Equal(DispatchConfig{
				MinScoreFraction:  0.9,
				Policy:            "threshold",
				SoftTimeLimit:     30 * time.Second,
				VisibilityTimeout: 40 * time.Second,
				MaxRetryBackoff:   300 * time.Second,
			})))
		})
	})
})
