package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/store/pg"
	"github.com/nextlevelbuilder/walink/internal/store/redis"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("walink doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Storage:")
	checkWritableDir("Sessions", cfg.Storage.SessionsDir)
	switch {
	case cfg.Storage.PostgresDSN != "":
		checkPostgres(ctx, cfg.Storage.PostgresDSN)
	case cfg.Storage.RedisURL != "":
		checkRedis(ctx, cfg.Storage.RedisURL, cfg.Storage.RedisKey)
	default:
		checkWritableDir("Data", cfg.Storage.DataDir)
	}

	fmt.Println()
	fmt.Println("  Server:")
	fmt.Printf("    %-12s %s\n", "Listen:", cfg.Addr())
	if cfg.Server.Token == "" {
		fmt.Printf("    %-12s (none, API is open)\n", "Token:")
	} else {
		fmt.Printf("    %-12s %s\n", "Token:", maskSecret(cfg.Server.Token))
	}
	if cfg.Server.StaticDir != "" {
		checkReadableFile("Frontend", filepath.Join(cfg.Server.StaticDir, "index.html"))
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkWritableDir(name, dir string) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Printf("    %-12s %s (NOT WRITABLE: %v)\n", name+":", dir, err)
		return
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		fmt.Printf("    %-12s %s (NOT WRITABLE: %v)\n", name+":", dir, err)
		return
	}
	probe.Close()
	os.Remove(probe.Name())
	fmt.Printf("    %-12s %s (OK)\n", name+":", dir)
}

func checkReadableFile(name, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-12s %s (NOT FOUND)\n", name+":", path)
		return
	}
	fmt.Printf("    %-12s %s (OK)\n", name+":", path)
}

func checkRedis(ctx context.Context, rawURL, key string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rs, err := redis.New(ctx, rawURL, key)
	if err != nil {
		fmt.Printf("    %-12s UNREACHABLE (%v)\n", "Redis:", err)
		return
	}
	defer rs.Close()

	records, err := rs.Load(ctx)
	if err != nil {
		fmt.Printf("    %-12s connected, snapshot unreadable (%v)\n", "Redis:", err)
		return
	}
	fmt.Printf("    %-12s OK (%d pairing records)\n", "Redis:", len(records))
}

func checkPostgres(ctx context.Context, dsn string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ps, err := pg.New(ctx, dsn)
	if err != nil {
		fmt.Printf("    %-12s UNREACHABLE (%v)\n", "Postgres:", err)
		return
	}
	defer ps.Close()

	records, err := ps.Load(ctx)
	if err != nil {
		fmt.Printf("    %-12s connected, snapshot unreadable (%v)\n", "Postgres:", err)
		return
	}
	fmt.Printf("    %-12s OK (%d pairing records)\n", "Postgres:", len(records))
}
