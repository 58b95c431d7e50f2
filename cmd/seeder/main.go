package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/merchantops/internal/config"
	"github.com/punchamoorthee/merchantops/internal/logger"
	"github.com/punchamoorthee/merchantops/internal/store"
	"go.uber.org/zap"
)

func main() {
	total := flag.Int("accounts", 1000, "Number of merchant accounts to ensure")
	balance := flag.Int64("balance", 0, "Opening balance in minor units")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer zl.Sync()

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		zl.Fatal("unable to connect to database", zap.Error(err))
	}
	defer st.Close()

	if err := st.Migrate(zl); err != nil {
		zl.Fatal("migration failed", zap.Error(err))
	}

	var count int
	if err := st.Db.QueryRow(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		zl.Fatal("count failed", zap.Error(err))
	}
	if count >= *total {
		zl.Info("database already seeded, skipping", zap.Int("accounts", count))
		return
	}

	missing := *total - count
	zl.Info("generating accounts", zap.Int("count", missing))
	rows := make([][]interface{}, 0, missing)
	now := time.Now()
	for i := 0; i < missing; i++ {
		rows = append(rows, []interface{}{*balance, now})
	}

	// CopyFrom is the fastest bulk path.
	copied, err := st.Db.CopyFrom(
		ctx,
		pgx.Identifier{"accounts"},
		[]string{"balance", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		zl.Fatal("bulk insert failed", zap.Error(err))
	}

	zl.Info("seeded accounts", zap.Int64("copied", copied))
}
