package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "rabbitmq", cfg.RabbitMQ.Host)
			assert.Equal(t, "sticker_jobs", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, 10, cfg.Limits.DailyLimit)
			assert.Equal(t, int64(102400), cfg.Limits.MaxFileBytes)
			assert.Equal(t, 3*time.Second, cfg.Queue.MinInterval)
			assert.Equal(t, []string{"i", "{input}", "{output}"}, cfg.Pipeline.Remover.Args)
			assert.Equal(t, 45*time.Second, cfg.Pipeline.Remover.Timeout)
			assert.Equal(t, 12.0, cfg.Pipeline.Outline.BlurSigma)
			assert.Equal(t, "Test Pack", cfg.Sticker.Pack)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, 25, cfg.Limits.DailyLimit)
	assert.Equal(t, int64(204800), cfg.Limits.MaxFileBytes)
	assert.Equal(t, 2*time.Second, cfg.Queue.MinInterval)
	assert.Equal(t, time.Second, cfg.Queue.EmbeddedDelay)
	assert.Equal(t, 512, cfg.Pipeline.Outline.CanvasSize)
	assert.Equal(t, 400, cfg.Pipeline.Outline.InnerSize)
	assert.Equal(t, 15.0, cfg.Pipeline.Outline.BlurSigma)
	assert.Equal(t, uint8(50), cfg.Pipeline.Outline.Threshold)
	assert.Equal(t, "Sticker Bot", cfg.Sticker.Pack)
	assert.Equal(t, "Seu Nome", cfg.Sticker.Author)
	assert.Equal(t, 100, cfg.Sticker.Quality)
	assert.Equal(t, "full", cfg.Sticker.Crop)
	assert.Equal(t, StagingDriverDir, cfg.Staging.Driver)
	assert.Equal(t, 64, cfg.Server.MaxInflightEvents)
	assert.Equal(t, []string{"@g.us", "status@broadcast"}, cfg.Intake.IgnoredSuffixes)
	assert.True(t, cfg.WorkerEnabled())

	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	disabled := false
	cfg := &Config{
		Limits:   LimitsConfig{DailyLimit: 3},
		Worker:   WorkerConfig{Enabled: &disabled},
		RabbitMQ: RabbitMQConfig{Host: "localhost"},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, 3, cfg.Limits.DailyLimit)
	assert.False(t, cfg.WorkerEnabled())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RABBITMQ_HOST": "broker.internal",
		"RABBITMQ_PORT": "5673",
		"REDIS_HOST":    "cache.internal",
		"PORT":          "8081",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &Config{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, "broker.internal", cfg.RabbitMQ.Host)
	assert.Equal(t, 5673, cfg.RabbitMQ.Port)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, ModeDistributed, cfg.QueueMode())
}

func TestApplyEnv_InvalidPort(t *testing.T) {
	cfg := &Config{}
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "REDIS_PORT" {
			return "six", true
		}
		return "", false
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid REDIS_PORT")
}

func TestQueueMode(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, ModeEmbedded, cfg.QueueMode())

	cfg.RabbitMQ.Host = "localhost"
	assert.Equal(t, ModeDistributed, cfg.QueueMode())
}

func TestLocation(t *testing.T) {
	cfg := &Config{}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.Limits.Timezone = "America/Sao_Paulo"
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Sao_Paulo", loc.String())

	cfg.Limits.Timezone = "Mars/Olympus"
	_, err = cfg.Location()
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name: "broker without queue name",
			mutate: func(c *Config) {
				c.RabbitMQ.Host = "localhost"
				c.RabbitMQ.Queue.Name = ""
			},
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "broker without redis gate",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "localhost" },
			errString: "redis host is required",
		},
		{
			name: "broker with redis gate",
			mutate: func(c *Config) {
				c.RabbitMQ.Host = "localhost"
				c.Redis.Host = "localhost"
			},
		},
		{
			name:      "database without name",
			mutate:    func(c *Config) { c.Database.Host = "localhost" },
			errString: "database name is required",
		},
		{
			name:      "unknown staging driver",
			mutate:    func(c *Config) { c.Staging.Driver = "s3" },
			errString: "unknown staging driver",
		},
		{
			name:      "minio without endpoint",
			mutate:    func(c *Config) { c.Staging.Driver = StagingDriverMinio },
			errString: "staging minio endpoint is required",
		},
		{
			name:      "inner size larger than canvas",
			mutate:    func(c *Config) { c.Pipeline.Outline.InnerSize = 600 },
			errString: "invalid outline sizes",
		},
		{
			name:      "inner size equal to canvas",
			mutate:    func(c *Config) { c.Pipeline.Outline.InnerSize = c.Pipeline.Outline.CanvasSize },
			errString: "invalid outline sizes",
		},
		{
			name:      "bad crop mode",
			mutate:    func(c *Config) { c.Sticker.Crop = "circle" },
			errString: "unknown sticker crop mode",
		},
		{
			name: "embedded queue without worker",
			mutate: func(c *Config) {
				disabled := false
				c.Worker.Enabled = &disabled
			},
			errString: "worker must be enabled",
		},
		{
			name:      "bad timezone",
			mutate:    func(c *Config) { c.Limits.Timezone = "Nowhere/City" },
			errString: "invalid limits timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
