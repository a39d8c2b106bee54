package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server holds the transport and observability settings.
type Server struct {
	HTTPAddr    string
	LogFile     string
	JournalPath string
}

// Sim holds the in-process simulation settings.
type Sim struct {
	NumAgents     int
	Companies     []string
	AgentTick     time.Duration
	AgentPatience time.Duration
	// RunFor stops the simulation after this duration; 0 runs until SIGINT.
	RunFor time.Duration
}

type Config struct {
	Server Server
	Sim    Sim
}

func Default() Config {
	return Config{
		Server: Server{
			HTTPAddr:    ":8080",
			LogFile:     "data/exchange.log",
			JournalPath: "data/journal",
		},
		Sim: Sim{
			NumAgents:     8,
			Companies:     []string{"Acme", "Globex", "Initech", "Umbrella"},
			AgentTick:     200 * time.Millisecond,
			AgentPatience: time.Second,
			RunFor:        0,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Server.LogFile = v
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		cfg.Server.JournalPath = v
	}
	if v := os.Getenv("NUM_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sim.NumAgents = n
		}
	}
	if v := os.Getenv("COMPANIES"); v != "" {
		// Comma-separated, e.g. "Acme,Globex"
		var companies []string
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				companies = append(companies, c)
			}
		}
		if len(companies) > 0 {
			cfg.Sim.Companies = companies
		}
	}
	if ms, ok := envMillis("AGENT_TICK_MS"); ok {
		cfg.Sim.AgentTick = ms
	}
	if ms, ok := envMillis("AGENT_PATIENCE_MS"); ok {
		cfg.Sim.AgentPatience = ms
	}
	if v := os.Getenv("RUN_FOR_S"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s >= 0 {
			cfg.Sim.RunFor = time.Duration(s) * time.Second
		}
	}

	return cfg
}

func envMillis(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
