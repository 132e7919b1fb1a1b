package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   callback HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   job token HMAC secret key
//	-k string   vault key for backend secrets
//	-m int      maximum number of storage backends
//	-t int      upload session TTL, hours
//	-r int      adapter retry attempts
//	-p string   path to YAML transcode profiles
//	-x uint     enabled codec bitmask
func parseFlags(config *Config, osArgs []string) {
	args := flagx.FilterArgs(osArgs, []string{"-a", "-d", "-s", "-k", "-m", "-t", "-r", "-p", "-x"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run callback server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "job token secret key")
	fs.StringVar(&config.VaultKey, "k", config.VaultKey, "vault key")
	fs.IntVar(&config.MaxBackends, "m", config.MaxBackends, "maximum number of storage backends")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Hours()), "upload session TTL (in hours)")

	fs.Uint64Var(&config.RetryAttempts, "r", config.RetryAttempts, "adapter retry attempts")
	fs.StringVar(&config.TranscodeProfilesPath, "p", config.TranscodeProfilesPath, "transcode profiles YAML")
	fs.UintVar(&config.EnabledCodecs, "x", config.EnabledCodecs, "enabled codec bitmask")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(*sessionTTL) * time.Hour
}
