package config

import (
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// durationEnvKeys lists every duration variable that must be positive.
var durationEnvKeys = []string{
	"READ_TIMEOUT",
	"WRITE_TIMEOUT",
	"IDLE_TIMEOUT",
	"SHUTDOWN_TIMEOUT",
	"ACCESS_TOKEN_EXPIRE",
	"PRICE_TIMEOUT",
	"TICK_INTERVAL",
}

// durationField maps a duration variable to its parsed value and default.
func durationField(cfg *Config, key string) (got, def time.Duration) {
	switch key {
	case "READ_TIMEOUT":
		return cfg.ReadTimeout, 5 * time.Second
	case "WRITE_TIMEOUT":
		return cfg.WriteTimeout, 10 * time.Second
	case "IDLE_TIMEOUT":
		return cfg.IdleTimeout, 60 * time.Second
	case "SHUTDOWN_TIMEOUT":
		return cfg.ShutdownTimeout, 10 * time.Second
	case "ACCESS_TOKEN_EXPIRE":
		return cfg.AccessTokenExpire, 30 * time.Minute
	case "PRICE_TIMEOUT":
		return cfg.PriceTimeout, 5 * time.Second
	case "TICK_INTERVAL":
		return cfg.TickInterval, time.Second
	}
	panic("unknown duration key " + key)
}

// resetEnv clears every config variable and sets the required secret.
func resetEnv() {
	for _, key := range configEnvKeys {
		os.Unsetenv(key)
	}
	os.Setenv("SECRET_KEY", "test-secret")
}

func genDuration() *rapid.Generator[time.Duration] {
	return rapid.Custom(func(t *rapid.T) time.Duration {
		unit := rapid.SampledFrom([]time.Duration{time.Millisecond, time.Second, time.Minute}).Draw(t, "unit")
		return time.Duration(rapid.Int64Range(1, 600).Draw(t, "n")) * unit
	})
}

// listEnv is a comma separated value with padded entries and blank items,
// plus the list a correct parse must produce from it.
type listEnv struct {
	raw  string
	want []string
}

func genListEnv(entry *rapid.Generator[string]) *rapid.Generator[listEnv] {
	return rapid.Custom(func(t *rapid.T) listEnv {
		n := rapid.IntRange(1, 5).Draw(t, "entries")
		var raw []string
		want := []string{}
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, "blank") {
				raw = append(raw, " ")
				continue
			}
			e := entry.Draw(t, "entry")
			pad := rapid.SampledFrom([]string{"", " ", "  "}).Draw(t, "pad")
			raw = append(raw, pad+e+pad)
			want = append(want, e)
		}
		return listEnv{raw: strings.Join(raw, ","), want: want}
	})
}

func TestProperty_ValidConfigParsing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		resetEnv()
		defer resetEnv()

		port := rapid.IntRange(1, 65535).Draw(t, "port")
		level := rapid.SampledFrom(validLogLevels).Draw(t, "level")
		upper := rapid.Bool().Draw(t, "upper")
		redisDB := rapid.IntRange(0, 15).Draw(t, "redisDB")

		os.Setenv("PORT", strconv.Itoa(port))
		if upper {
			os.Setenv("LOG_LEVEL", strings.ToUpper(level))
		} else {
			os.Setenv("LOG_LEVEL", level)
		}
		os.Setenv("REDIS_DB", strconv.Itoa(redisDB))

		set := make(map[string]time.Duration)
		for _, key := range durationEnvKeys {
			if rapid.Bool().Draw(t, "set "+key) {
				d := genDuration().Draw(t, key)
				os.Setenv(key, d.String())
				set[key] = d
			}
		}

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Port != port {
			t.Fatalf("Port = %d, want %d", cfg.Port, port)
		}
		if cfg.LogLevel != level {
			t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, level)
		}
		if cfg.RedisDB != redisDB {
			t.Fatalf("RedisDB = %d, want %d", cfg.RedisDB, redisDB)
		}
		for _, key := range durationEnvKeys {
			got, want := durationField(cfg, key)
			if d, ok := set[key]; ok {
				want = d
			}
			if got != want {
				t.Fatalf("%s = %v, want %v", key, got, want)
			}
		}
	})
}

func TestProperty_SecretKeyRequired(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		resetEnv()
		defer resetEnv()

		secret := rapid.StringMatching(`[A-Za-z0-9+/=_-]{1,64}`).Draw(t, "secret")
		os.Setenv("SECRET_KEY", secret)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load with SECRET_KEY=%q: %v", secret, err)
		}
		if cfg.SecretKey != secret {
			t.Fatalf("SecretKey = %q, want %q", cfg.SecretKey, secret)
		}

		if rapid.Bool().Draw(t, "unset") {
			os.Unsetenv("SECRET_KEY")
		} else {
			os.Setenv("SECRET_KEY", "")
		}
		if _, err := Load(); err == nil {
			t.Fatal("Load should fail without SECRET_KEY")
		}
	})
}

func TestProperty_ListVariablesAreTrimmed(t *testing.T) {
	origin := rapid.StringMatching(`https?://[a-z]{1,10}\.example\.com(:[1-9][0-9]{0,3})?`)
	broker := rapid.StringMatching(`[a-z]{1,8}:[1-9][0-9]{3}`)

	rapid.Check(t, func(t *rapid.T) {
		resetEnv()
		defer resetEnv()

		origins := genListEnv(origin).Draw(t, "origins")
		brokers := genListEnv(broker).Draw(t, "brokers")
		os.Setenv("ALLOWED_ORIGINS", origins.raw)
		os.Setenv("KAFKA_BROKERS", brokers.raw)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !slices.Equal(cfg.AllowedOrigins, origins.want) {
			t.Fatalf("AllowedOrigins = %q, want %q (raw %q)", cfg.AllowedOrigins, origins.want, origins.raw)
		}
		if !slices.Equal(cfg.KafkaBrokers, brokers.want) {
			t.Fatalf("KafkaBrokers = %q, want %q (raw %q)", cfg.KafkaBrokers, brokers.want, brokers.raw)
		}
		if cfg.KafkaTopic != "trades.executed" {
			t.Fatalf("KafkaTopic = %q, want the default", cfg.KafkaTopic)
		}
	})
}

func TestProperty_NegativeRedisDBRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		resetEnv()
		defer resetEnv()

		db := rapid.IntRange(-1000, -1).Draw(t, "db")
		os.Setenv("REDIS_DB", strconv.Itoa(db))

		if _, err := Load(); err == nil {
			t.Fatalf("Load should reject REDIS_DB=%d", db)
		}
	})
}

func TestProperty_InvalidPortRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		resetEnv()
		defer resetEnv()

		port := rapid.OneOf(
			rapid.StringMatching(`[a-zA-Z]{1,10}`),
			rapid.SampledFrom([]string{"12.5", "1.0e2", "8000x"}),
			rapid.Map(rapid.IntRange(-70000, 0), strconv.Itoa),
			rapid.Map(rapid.IntRange(65536, 1<<20), strconv.Itoa),
		).Draw(t, "port")
		os.Setenv("PORT", port)

		if _, err := Load(); err == nil {
			t.Fatalf("Load should reject PORT=%q", port)
		}
	})
}

func TestProperty_InvalidLogLevelRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		resetEnv()
		defer resetEnv()

		level := rapid.StringMatching(`[a-z]{1,20}`).Filter(func(s string) bool {
			return !slices.Contains(validLogLevels, s)
		}).Draw(t, "level")
		os.Setenv("LOG_LEVEL", level)

		if _, err := Load(); err == nil {
			t.Fatalf("Load should reject LOG_LEVEL=%q", level)
		}
	})
}

func TestProperty_BadDurationRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		resetEnv()
		defer resetEnv()

		key := rapid.SampledFrom(durationEnvKeys).Draw(t, "key")
		value := rapid.OneOf(
			rapid.StringMatching(`[a-zA-Z]{2,10}`).Filter(func(s string) bool {
				_, err := time.ParseDuration(s)
				return err != nil
			}),
			rapid.SampledFrom([]string{"5x", "abc123", "0", "0s"}),
			rapid.Map(genDuration(), func(d time.Duration) string { return (-d).String() }),
		).Draw(t, "value")
		os.Setenv(key, value)

		if _, err := Load(); err == nil {
			t.Fatalf("Load should reject %s=%q", key, value)
		}
	})
}
