package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed sql/*.sql
var embedded embed.FS

// Embedded 内置迁移脚本
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// versionTable 与其他应用共库时避免冲突
const versionTable = "htram_schema_migrations"

// DB 迁移所需的连接能力（*pgxpool.Pool 满足）
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Runner 迁移执行器；FS 为空时使用内置脚本
type Runner struct {
	FS fs.FS
}

type migrationFile struct {
	Version int64
	Name    string
	Path    string
}

// discoverUpMigrations 扫描 NNNN_name_up.sql，按版本排序；版本重复报错
func discoverUpMigrations(fsys fs.FS) ([]migrationFile, error) {
	var files []migrationFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		base := path.Base(p)
		stem, isUp := strings.CutSuffix(base, "_up.sql")
		if !isUp {
			return nil
		}
		prefix, name, _ := strings.Cut(stem, "_")
		ver, convErr := strconv.ParseInt(prefix, 10, 64)
		if convErr != nil {
			return nil
		}
		files = append(files, migrationFile{Version: ver, Name: name, Path: p})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	for i := 1; i < len(files); i++ {
		if files[i].Version == files[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d (%s, %s)", files[i].Version, files[i-1].Path, files[i].Path)
		}
	}
	return files, nil
}

func (r Runner) fsys() fs.FS {
	if r.FS != nil {
		return r.FS
	}
	return Embedded()
}

func ensureTable(ctx context.Context, db DB) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (
		version    BIGINT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", versionTable, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db DB) (map[int64]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM `+versionTable)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(versions))
	for _, v := range versions {
		out[v] = true
	}
	return out, nil
}

// Pending 尚未应用的迁移版本
func (r Runner) Pending(ctx context.Context, db DB) ([]int64, error) {
	if err := ensureTable(ctx, db); err != nil {
		return nil, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}
	ups, err := discoverUpMigrations(r.fsys())
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, m := range ups {
		if !applied[m.Version] {
			out = append(out, m.Version)
		}
	}
	return out, nil
}

// Up 逐个在事务中执行未应用的迁移，返回本次应用的数量
func (r Runner) Up(ctx context.Context, db DB) (int, error) {
	fsys := r.fsys()
	if err := ensureTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}
	ups, err := discoverUpMigrations(fsys)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range ups {
		if applied[m.Version] {
			continue
		}
		script, err := fs.ReadFile(fsys, m.Path)
		if err != nil {
			return n, err
		}
		err = pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(script)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO `+versionTable+`(version, name) VALUES($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("migration %d %s: %w", m.Version, m.Name, err)
		}
		n++
	}
	return n, nil
}
