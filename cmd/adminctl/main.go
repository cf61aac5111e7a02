// adminctl is the operator CLI: seed an admin account, inspect users, and
// fix roles without going through the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"authgate/api/internal/cache"
	"authgate/api/internal/config"
	"authgate/api/internal/database"
	"authgate/api/internal/ids"
	"authgate/api/internal/log"
	"authgate/api/internal/models"
	"authgate/api/internal/repository"
	"authgate/api/internal/security"
	"authgate/api/internal/service"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := log.New(cfg.Environment)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	users := repository.NewUserRepository(pool)

	switch os.Args[1] {
	case "create-admin":
		err = createAdmin(ctx, users, os.Args[2:])
	case "list-users":
		err = listUsers(ctx, users, os.Args[2:])
	case "set-role":
		err = setRole(ctx, users, os.Args[2:])
	case "check-db":
		err = checkDB(ctx, cfg, pool)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: adminctl <command> [flags]

commands:
  create-admin  -email <email> -password <password>   create a verified admin account
  list-users    [-limit n]                            print users
  set-role      -email <email> -role <user|admin>     change a user's role
  check-db                                            verify postgres and redis connectivity`)
}

func createAdmin(ctx context.Context, users *repository.UserRepository, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	email := fs.String("email", "", "admin email")
	password := fs.String("password", "", "admin password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("email and password are required")
	}

	passwordHash, err := security.HashPassword(*password)
	if err != nil {
		return err
	}

	user := models.User{
		ID:           ids.New(),
		Email:        service.NormalizeEmail(*email),
		PasswordHash: passwordHash,
		Role:         models.UserRoleAdmin,
		IsVerified:   true,
	}

	if err := users.Create(ctx, user); err != nil {
		return err
	}

	fmt.Printf("admin created: %s (%s)\n", user.Email, user.ID)
	return nil
}

func listUsers(ctx context.Context, users *repository.UserRepository, args []string) error {
	fs := flag.NewFlagSet("list-users", flag.ExitOnError)
	limit := fs.Int("limit", 100, "max users to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := users.List(ctx, *limit, 0)
	if err != nil {
		return err
	}

	for _, u := range list {
		verified := "unverified"
		if u.IsVerified {
			verified = "verified"
		}
		fmt.Printf("%s  %-30s  %-5s  %s  %s\n",
			u.ID, u.Email, u.Role, verified, u.CreatedAt.Format(time.RFC3339))
	}
	fmt.Printf("%d user(s)\n", len(list))
	return nil
}

func setRole(ctx context.Context, users *repository.UserRepository, args []string) error {
	fs := flag.NewFlagSet("set-role", flag.ExitOnError)
	email := fs.String("email", "", "user email")
	role := fs.String("role", "", "user or admin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	newRole := models.UserRole(*role)
	if !newRole.Valid() {
		return fmt.Errorf("invalid role %q", *role)
	}

	user, err := users.FindByEmail(ctx, service.NormalizeEmail(*email))
	if err != nil {
		return err
	}

	if err := users.UpdateRole(ctx, user.ID, newRole); err != nil {
		return err
	}

	fmt.Printf("role updated: %s is now %s\n", user.Email, newRole)
	return nil
}

func checkDB(ctx context.Context, cfg *config.AppConfig, pool *pgxpool.Pool) error {
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	fmt.Println("postgres: ok")

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	fmt.Println("redis: ok")

	return nil
}
