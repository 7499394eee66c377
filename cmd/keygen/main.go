// Package main issues credentials for the CCT registry API without running the server.
//
//	keygen jwt -account registry-admin -scopes registry:admin -ttl 24h
//	keygen apikey -account test-company -scopes projects:write,exchange:trade
//
// The jwt command signs with CCT_JWT_SECRET, so it must match the server's secret.
// The apikey command prints the raw key once together with its bcrypt hash and a
// ready-to-run INSERT for the api_keys table.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cct-registry/cct-registry/internal/auth"
	"github.com/google/uuid"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <jwt|apikey> [flags]", os.Args[0])
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// options are the flags shared by both commands
type options struct {
	account string
	scopes  []string
	ttl     time.Duration
	prefix  string
}

func parseOptions(command string, args []string) (*options, error) {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	account := fs.String("account", "", "account the credential authenticates as")
	scopes := fs.String("scopes", "", "comma separated scopes")
	ttl := fs.Duration("ttl", time.Hour, "lifetime of a jwt")
	prefix := fs.String("prefix", auth.DefaultAPIKeyPrefix, "api key prefix")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *account == "" {
		return nil, errors.New("-account is required")
	}
	opts := &options{account: *account, ttl: *ttl, prefix: *prefix}
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			opts.scopes = append(opts.scopes, s)
		}
	}
	if err := auth.ValidateScopes(opts.scopes); err != nil {
		return nil, err
	}
	return opts, nil
}

func run(command string, args []string, out io.Writer) error {
	opts, err := parseOptions(command, args)
	if err != nil {
		return err
	}

	switch command {
	case "jwt":
		if opts.ttl <= 0 {
			return errors.New("-ttl must be positive")
		}
		if err := auth.ValidateJWTSecret(); err != nil {
			return err
		}
		token, err := auth.GenerateJWT(opts.account, opts.scopes, opts.ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, token)
		return nil
	case "apikey":
		return writeAPIKey(out, opts)
	default:
		return fmt.Errorf("unknown command: %s (must be jwt or apikey)", command)
	}
}

func writeAPIKey(out io.Writer, opts *options) error {
	scopes := opts.scopes
	if len(scopes) == 0 {
		scopes = auth.DefaultScopes()
	}

	key, hash, displayPrefix, err := auth.GenerateAPIKey(opts.prefix)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Key: %s\n", key)
	fmt.Fprintf(out, "Hash: %s\n", hash)
	fmt.Fprintf(out, "Display Prefix: %s\n", displayPrefix)
	fmt.Fprintf(out, "\nINSERT INTO api_keys (id, account_id, name, key_hash, key_prefix, scopes)\n")
	fmt.Fprintf(out, "VALUES ('%s', '%s', 'keygen', '%s', '%s', '[\"%s\"]');\n",
		uuid.New().String(), opts.account, hash, displayPrefix, strings.Join(scopes, `","`))
	fmt.Fprintf(out, "\nAuthorization: Bearer %s\n", key)
	return nil
}
