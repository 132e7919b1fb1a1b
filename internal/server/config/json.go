package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/flagx"
	"github.com/dmitrijs2005/mediavault/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept both
// strings such as "24h" and integer nanoseconds. Absent keys leave the
// corresponding Config field untouched.
type JsonConfig struct {
	EndpointAddrHTTP         *string         `json:"endpoint_addr_http"`
	DatabaseDSN              *string         `json:"database_dsn"`
	SecretKey                *string         `json:"secret_key"`
	VaultKey                 *string         `json:"vault_key"`
	MaxBackends              *int            `json:"max_backends"`
	SessionTTL               *timex.Duration `json:"session_ttl"`
	RoleCacheTTL             *timex.Duration `json:"role_cache_ttl"`
	JobTokenValidityDuration *timex.Duration `json:"job_token_validity_duration"`
	RetryAttempts            *uint64         `json:"retry_attempts"`
	RetryDelay               *timex.Duration `json:"retry_delay"`
	HTTPClientTimeout        *timex.Duration `json:"http_client_timeout"`
	TokenRefreshSchedule     *string         `json:"token_refresh_schedule"`
	SessionSweepSchedule     *string         `json:"session_sweep_schedule"`
	TokenRefreshLeadTime     *timex.Duration `json:"token_refresh_lead_time"`
	TranscodeProfilesPath    *string         `json:"transcode_profiles_path"`
	EnabledCodecs            *uint           `json:"enabled_codecs"`
}

// parseJson loads the file named by -c/-config (if any) and overlays it onto
// config. An unreadable file or invalid JSON panics: the process should not
// start on a config it cannot understand.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.VaultKey, c.VaultKey)
	if c.MaxBackends != nil {
		config.MaxBackends = *c.MaxBackends
	}
	setDuration(&config.SessionTTL, c.SessionTTL)
	setDuration(&config.RoleCacheTTL, c.RoleCacheTTL)
	setDuration(&config.JobTokenValidityDuration, c.JobTokenValidityDuration)
	if c.RetryAttempts != nil {
		config.RetryAttempts = *c.RetryAttempts
	}
	setDuration(&config.RetryDelay, c.RetryDelay)
	setDuration(&config.HTTPClientTimeout, c.HTTPClientTimeout)
	setString(&config.TokenRefreshSchedule, c.TokenRefreshSchedule)
	setString(&config.SessionSweepSchedule, c.SessionSweepSchedule)
	setDuration(&config.TokenRefreshLeadTime, c.TokenRefreshLeadTime)
	setString(&config.TranscodeProfilesPath, c.TranscodeProfilesPath)
	if c.EnabledCodecs != nil {
		config.EnabledCodecs = *c.EnabledCodecs
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
