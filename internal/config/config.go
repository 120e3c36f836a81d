package config // package config loads application configuration from environment variables

import (
    "log"      // log is used to report configuration errors and halt execution
    "os"       // os provides access to environment variables
    "strconv"  // strconv converts strings to other types
    "time"     // time parses interval settings
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Required values are enforced by must() and
// missing values cause the program to exit with a fatal log message;
// import tuning values fall back to the documented pipeline defaults.
type Config struct {
    Env        string // application environment (e.g. "dev", "prod")
    Port       string // HTTP port to listen on
    DBUser     string // database username
    DBPass     string // database password (optional)
    DBHost     string // database host address
    DBPort     string // database port number
    DBName     string // database name
    JWTSecret  string // secret used to verify operator JWTs
    BcryptCost int    // bcrypt cost for provisioned member passwords

    // Import pipeline tuning.
    ImportChunkSize     int           // rows per chunk (prefetch + write unit)
    ImportWriteSubBatch int           // bounded-parallel member updates per chunk flush
    ImportHeartbeat     time.Duration // keepalive ping interval on streaming imports
}

// Load reads configuration values from environment variables and
// returns a Config.
func Load() Config {
    return Config{
        Env:        must("APP_ENV"),
        Port:       must("APP_PORT"),
        DBUser:     must("DB_USER"),
        DBPass:     os.Getenv("DB_PASS"), // empty allowed
        DBHost:     must("DB_HOST"),
        DBPort:     must("DB_PORT"),
        DBName:     must("DB_NAME"),
        JWTSecret:  must("JWT_SECRET"),
        BcryptCost: mustInt("BCRYPT_COST"),

        ImportChunkSize:     envInt("IMPORT_CHUNK_SIZE", 25),
        ImportWriteSubBatch: envInt("IMPORT_WRITE_SUBBATCH", 10),
        ImportHeartbeat:     envDur("IMPORT_HEARTBEAT", 8*time.Second),
    }
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return n
}

