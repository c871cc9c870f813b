// Command cafe is the operator CLI for the cafe back-office.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/cafe-backoffice/internal/crypto"
	"github.com/and161185/cafe-backoffice/internal/model"
	"github.com/and161185/cafe-backoffice/internal/policy"
	"github.com/and161185/cafe-backoffice/internal/repository"
	"github.com/and161185/cafe-backoffice/internal/repository/postgres"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "cafe")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cafe")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// ---- utils ----

// readPassword takes -p, or the first line of stdin when -p is "-".
func readPassword(flagVal string, stdin io.Reader) (string, error) {
	if flagVal != "-" {
		return flagVal, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `cafe operator CLI
Usage:
  cafe [-addr URL] <cmd> [args]

Commands:
  version
  hash-password  -p <password|->                     (prints an argon2id hash)
  create-account -dsn <postgres dsn> -u <email> -p <password|-> -role admin|staff|customer
  login          -u <username> -p <password|->       (saves token)
  staff                                              (admin only)
`)
	os.Exit(2)
}

// ---- commands ----

// createAccount validates the password against the account policy and stores a new active account.
func createAccount(ctx context.Context, repo repository.AccountRepository, username, password, role string) (*model.Account, error) {
	r, err := model.ParseRole(role)
	if err != nil {
		return nil, err
	}
	if username == "" {
		return nil, errors.New("empty username")
	}
	if reasons := policy.Check(password); len(reasons) > 0 {
		return nil, fmt.Errorf("password must %s", strings.Join(reasons, ", "))
	}
	hash, err := pkgcrypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	a := &model.Account{ID: id, Username: username, PasswordHash: hash, Role: r, Status: model.StatusActive}
	if err := repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("cafe %s (%s)\n", version, buildDate)

	case "hash-password":
		fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
		p := fs.String("p", "-", "password, or - for stdin")
		_ = fs.Parse(flag.Args()[1:])
		pw, err := readPassword(*p, os.Stdin)
		if err != nil {
			fail(err)
		}
		h, err := pkgcrypto.HashPassword(pw)
		if err != nil {
			fail(err)
		}
		fmt.Println(h)

	case "create-account":
		fs := flag.NewFlagSet("create-account", flag.ExitOnError)
		dsn := fs.String("dsn", os.Getenv("CAFE_DB_DSN"), "PostgreSQL DSN")
		u := fs.String("u", "", "username (email)")
		p := fs.String("p", "-", "password, or - for stdin")
		role := fs.String("role", string(model.RoleStaff), "admin|staff|customer")
		_ = fs.Parse(flag.Args()[1:])
		if *dsn == "" || *u == "" {
			fmt.Fprintln(os.Stderr, "need -dsn and -u")
			os.Exit(1)
		}
		pw, err := readPassword(*p, os.Stdin)
		if err != nil {
			fail(err)
		}
		db, err := postgres.New(ctx, *dsn)
		if err != nil {
			fail(err)
		}
		defer db.Close()

		a, err := createAccount(ctx, postgres.NewAccountRepo(db), *u, pw, *role)
		if err != nil {
			fail(err)
		}
		fmt.Println(a.ID)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "-", "password, or - for stdin")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" {
			fmt.Fprintln(os.Stderr, "need -u")
			os.Exit(1)
		}
		pw, err := readPassword(*p, os.Stdin)
		if err != nil {
			fail(err)
		}

		res, err := newAPIClient(*addr).login(ctx, *u, pw)
		if err != nil {
			fail(err)
		}
		if err := saveToken(res.AccessToken, res.ExpiresAt); err != nil {
			fail(err)
		}
		fmt.Printf("ok (%s, home %s)\n", res.Role, res.Redirect)

	case "staff":
		token, err := loadToken()
		if err != nil {
			fail(err)
		}
		staff, err := newAPIClient(*addr).staff(ctx, token)
		if err != nil {
			fail(err)
		}
		printJSON(os.Stdout, staff)

	default:
		usage()
	}
}
