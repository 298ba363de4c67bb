package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/flagx"
	"github.com/dmitrijs2005/accountsrv/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "20s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, its fields are copied into the runtime Config
// struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	DatabaseDSN                  string         `json:"database_dsn"`
	BaseURL                      string         `json:"base_url"`
	SMTPHost                     string         `json:"smtp_host"`
	SMTPPort                     int            `json:"smtp_port"`
	SMTPUser                     string         `json:"smtp_user"`
	SMTPPassword                 string         `json:"smtp_password"`
	EmailFrom                    string         `json:"email_from"`
	SigningKeyPath               string         `json:"signing_key_path"`
	OtpValidityDuration          timex.Duration `json:"otp_validity_duration"`
	LoginTokenValidityDuration   timex.Duration `json:"login_token_validity_duration"`
	AccountTokenValidityDuration timex.Duration `json:"account_token_validity_duration"`
	ResetCodeValidityDuration    timex.Duration `json:"reset_code_validity_duration"`
	VerifyTokenValidityDuration  timex.Duration `json:"verify_token_validity_duration"`
	CertValidityDuration         timex.Duration `json:"cert_validity_duration"`
	ClockSkew                    timex.Duration `json:"clock_skew"`
	CleanupInterval              timex.Duration `json:"cleanup_interval"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The lookup order for the JSON file path is:
//
//	The -c or -config command-line flags.
//	If it is not set, no JSON file is loaded.
//
// If the file path is found, parseJson attempts to read and unmarshal it
// into a JsonConfig. The resulting values are copied into the target Config.
// If the file cannot be read or contains invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.BaseURL = c.BaseURL
	config.SMTPHost = c.SMTPHost
	config.SMTPPort = c.SMTPPort
	config.SMTPUser = c.SMTPUser
	config.SMTPPassword = c.SMTPPassword
	config.EmailFrom = c.EmailFrom
	config.SigningKeyPath = c.SigningKeyPath
	config.OtpValidityDuration = time.Duration(c.OtpValidityDuration.Duration)
	config.LoginTokenValidityDuration = time.Duration(c.LoginTokenValidityDuration.Duration)
	config.AccountTokenValidityDuration = time.Duration(c.AccountTokenValidityDuration.Duration)
	config.ResetCodeValidityDuration = time.Duration(c.ResetCodeValidityDuration.Duration)
	config.VerifyTokenValidityDuration = time.Duration(c.VerifyTokenValidityDuration.Duration)
	config.CertValidityDuration = time.Duration(c.CertValidityDuration.Duration)
	config.ClockSkew = time.Duration(c.ClockSkew.Duration)
	config.CleanupInterval = time.Duration(c.CleanupInterval.Duration)
}
