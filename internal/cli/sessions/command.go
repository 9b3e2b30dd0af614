package sessions

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Anvoria/loginguard/internal/cache"
	"github.com/Anvoria/loginguard/internal/config"
	"github.com/Anvoria/loginguard/internal/database"
	"github.com/Anvoria/loginguard/internal/domain/session"
)

// Command implements the sessions management command
type Command struct {
	// connect is replaced in tests
	connect func() (session.Service, func(), error)
}

func (c *Command) Name() string {
	return "sessions"
}

func (c *Command) Description() string {
	return "Session housekeeping (cleanup, list, revoke)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("subcommand required")
	}

	connect := c.connect
	if connect == nil {
		connect = connectFromConfig
	}

	switch args[0] {
	case "cleanup":
		return c.runCleanup(connect)
	case "list":
		return c.runList(connect, args[1:])
	case "revoke":
		return c.runRevoke(connect, args[1:])
	default:
		c.printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: loginguard-cli sessions <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  cleanup     Expire audit rows whose fast-store entry is gone\n")
	fmt.Fprintf(os.Stderr, "  list        List live sessions of a user (-user)\n")
	fmt.Fprintf(os.Stderr, "  revoke      Revoke every session of a user (-user)\n")
}

func (c *Command) runCleanup(connect func() (session.Service, func(), error)) error {
	svc, closeFn, err := connect()
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := svc.CleanupExpiredSessions(context.Background())
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Printf("Expired %d sessions\n", n)
	return nil
}

func (c *Command) runList(connect func() (session.Service, func(), error), args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	userID := fs.String("user", "", "User ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("-user is required")
	}

	svc, closeFn, err := connect()
	if err != nil {
		return err
	}
	defer closeFn()

	infos, err := svc.GetActiveSessions(context.Background(), *userID)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tDEVICE\tADDRESS\tCREATED\tLAST ACTIVE")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			info.SessionID, info.DeviceName, info.NetworkAddress,
			info.CreatedAt.Format(time.RFC3339), info.LastActivityAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func (c *Command) runRevoke(connect func() (session.Service, func(), error), args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	userID := fs.String("user", "", "User ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("-user is required")
	}

	svc, closeFn, err := connect()
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := svc.RevokeAllSessions(context.Background(), *userID, "", session.ReasonRevoked)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	fmt.Printf("Revoked %d sessions\n", n)
	return nil
}

func connectFromConfig() (session.Service, func(), error) {
	envConfig := config.LoadEnv()
	cfg, err := config.Load(envConfig.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := envConfig.Apply(cfg); err != nil {
		return nil, nil, err
	}

	if err := database.ConnectDB(cfg); err != nil {
		return nil, nil, err
	}
	if err := cache.ConnectRedis(&cfg.Redis); err != nil {
		_ = database.CloseDB()
		return nil, nil, err
	}

	svc := session.NewService(
		session.NewRedisStore(cache.RedisClient),
		session.NewRepository(database.DB),
		session.Options{Config: cfg.Session},
	)
	return svc, func() {
		svc.Wait()
		_ = cache.CloseRedis()
		_ = database.CloseDB()
	}, nil
}
