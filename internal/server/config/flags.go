package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/accountsrv/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-b string   public base URL used in emailed links
//	-m string   SMTP host
//	-o int      SMTP port
//	-u string   SMTP user (empty disables authentication)
//	-p string   SMTP password
//	-f string   From address for outgoing mail
//	-k string   path to the certificate signing key PEM file
//
// Durations are configured through the JSON file only.
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-b", "-m", "-o", "-u", "-p", "-f", "-k"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BaseURL, "b", config.BaseURL, "public base URL")
	fs.StringVar(&config.SMTPHost, "m", config.SMTPHost, "SMTP host")
	fs.IntVar(&config.SMTPPort, "o", config.SMTPPort, "SMTP port")
	fs.StringVar(&config.SMTPUser, "u", config.SMTPUser, "SMTP user")
	fs.StringVar(&config.SMTPPassword, "p", config.SMTPPassword, "SMTP password")
	fs.StringVar(&config.EmailFrom, "f", config.EmailFrom, "from address for outgoing mail")
	fs.StringVar(&config.SigningKeyPath, "k", config.SigningKeyPath, "certificate signing key file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
