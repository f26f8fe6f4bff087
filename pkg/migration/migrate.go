// Package migration はSQLiteデータベースのマイグレーションを管理する。
// embed.FSからgoose形式のSQLファイルを読み込み、未適用のものだけを順に適用する。
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"go.uber.org/zap"
)

// Run はfsys内のdirに置かれたマイグレーションをバージョン順に適用する。
// 適用済みのバージョンはgooseのバージョン管理テーブルで追跡され、スキップされる。
// ファイル名形式: 00001_description.sql（-- +goose Up / -- +goose Down 注釈付き）
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, log *zap.SugaredLogger) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションディレクトリの取得に失敗: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("マイグレーションプロバイダの生成に失敗: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("マイグレーションの適用に失敗: %w", err)
	}

	for _, r := range results {
		if r.Source == nil {
			continue
		}
		log.Infow("[Migration] マイグレーションを適用しました",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration,
		)
	}
	return nil
}

// Version は現在適用されている最新のマイグレーションバージョンを返す。
func Version(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) (int64, error) {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("マイグレーションディレクトリの取得に失敗: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, sub)
	if err != nil {
		return 0, fmt.Errorf("マイグレーションプロバイダの生成に失敗: %w", err)
	}

	v, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("バージョンの取得に失敗: %w", err)
	}
	return v, nil
}
