package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fraudnet.ai/internal/auth"
	"fraudnet.ai/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("FRAUDNET_DB_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "migrations", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "migrations/seeds", "Path to SQL seeds")
		adminEmail     = flag.String("admin-email", "", "Email for the bootstrap admin (admin command)")
		adminPassword  = flag.String("admin-password", "", "Password for the bootstrap admin (admin command)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or FRAUDNET_DB_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|admin]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "admin":
		err = bootstrapAdmin(ctx, db, *adminEmail, *adminPassword)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrapAdmin creates the first admin account. Idempotent: an existing
// user with the same email is left alone.
func bootstrapAdmin(ctx context.Context, db *sql.DB, email, password string) error {
	if email == "" || len(password) < 8 {
		return fmt.Errorf("admin requires -admin-email and -admin-password (8+ characters)")
	}
	users := auth.NewPGUserStore(db)
	if _, err := users.FindActiveByEmail(ctx, email); err == nil {
		log.Printf("admin %s already exists", email)
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	u := &auth.User{
		Name:         "bootstrap admin",
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		Active:       true,
	}
	if err := users.Create(ctx, u); err != nil {
		return err
	}
	log.Printf("created admin %s (%s)", email, u.ID)
	return nil
}
