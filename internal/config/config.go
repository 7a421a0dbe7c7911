package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StoreCredentials holds the Mercado Pago credentials for a single store
// (tenant). Resolved from the X-Store-ID request header.
type StoreCredentials struct {
	AccessToken string `json:"accessToken"`
	DeviceID    string `json:"deviceId"` // Point terminal; empty = PIX-only store
}

type Config struct {
	Port        int
	DBPath      string
	JWTSecret   string
	CORSOrigins []string

	// Payment gateway
	MPBaseURL      string                      // override for tests; empty = production API
	DefaultStoreID string                      // tenant used when no X-Store-ID header is sent
	Stores         map[string]StoreCredentials // store id → credentials

	// Confirmed-payment registry
	RedisAddr         string        // empty = in-memory registry
	RegistryRetention time.Duration // how long webhook confirmations stay cached
	RegistrySweepEach time.Duration
	QueueSweepEach    time.Duration // periodic terminal-queue cleanup interval

	// Upsell AI
	AIAPIKey  string
	AIBaseURL string
	AIModel   string
}

func Load() *Config {
	// Best-effort; production sets real env vars.
	_ = godotenv.Load()

	port := 8080
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/quiosque.db"
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-change-in-production"
	}
	corsOrigins := []string{
		"http://localhost:5173",
		"http://localhost:3000",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:3000",
	}
	if o := os.Getenv("CORS_ORIGINS"); o != "" {
		// Comma-separated list, e.g. "http://localhost:5173,http://127.0.0.1:5173"
		parts := strings.Split(o, ",")
		corsOrigins = make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				corsOrigins = append(corsOrigins, s)
			}
		}
	}

	defaultStoreID := os.Getenv("DEFAULT_STORE_ID")
	if defaultStoreID == "" {
		defaultStoreID = "default"
	}

	stores := map[string]StoreCredentials{}
	// MP_STORES is a JSON object: {"storeId": {"accessToken": "...", "deviceId": "..."}}
	if raw := os.Getenv("MP_STORES"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &stores); err != nil {
			log.Printf("config: invalid MP_STORES json: %v", err)
			stores = map[string]StoreCredentials{}
		}
	}
	// Single-store setup via flat env vars maps to the default store id.
	if tok := os.Getenv("MP_ACCESS_TOKEN"); tok != "" {
		stores[defaultStoreID] = StoreCredentials{
			AccessToken: tok,
			DeviceID:    os.Getenv("MP_DEVICE_ID"),
		}
	}

	return &Config{
		Port:        port,
		DBPath:      dbPath,
		JWTSecret:   jwtSecret,
		CORSOrigins: corsOrigins,

		MPBaseURL:      os.Getenv("MP_BASE_URL"),
		DefaultStoreID: defaultStoreID,
		Stores:         stores,

		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RegistryRetention: durationEnv("REGISTRY_RETENTION", time.Hour),
		RegistrySweepEach: durationEnv("REGISTRY_SWEEP_INTERVAL", time.Minute),
		QueueSweepEach:    durationEnv("QUEUE_SWEEP_INTERVAL", 2*time.Minute),

		AIAPIKey:  os.Getenv("AI_API_KEY"),
		AIBaseURL: os.Getenv("AI_BASE_URL"),
		AIModel:   os.Getenv("AI_MODEL"),
	}
}

func durationEnv(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("config: invalid %s, using %s", name, def)
	}
	return def
}
