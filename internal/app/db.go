package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/htram-gateway/internal/config"
	"github.com/taoyao-code/htram-gateway/internal/migrate"
	pgstorage "github.com/taoyao-code/htram-gateway/internal/storage/pg"
)

// ConnectDBAndMigrate 建立数据库连接并按需执行内置迁移
func ConnectDBAndMigrate(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	dbpool, err := pgstorage.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, err
	}
	if cfg.AutoMigrate {
		n, err := migrate.Runner{}.Up(ctx, dbpool)
		if err != nil {
			log.Error("db migrate error", zap.Error(err))
			dbpool.Close()
			return nil, err
		}
		log.Info("db migrations applied", zap.Int("count", n))
		return dbpool, nil
	}

	pending, err := migrate.Runner{}.Pending(ctx, dbpool)
	if err != nil {
		log.Warn("check pending migrations failed", zap.Error(err))
	} else if len(pending) > 0 {
		log.Warn("database has pending migrations, autoMigrate is off", zap.Int64s("versions", pending))
	}
	return dbpool, nil
}
