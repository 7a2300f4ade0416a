package app

import (
	"context"
	"errors"
	"fmt"
)

// Import 将配置的数据源写入 observations 表。
func (a *App) Import(ctx context.Context, opts ImportOptions) error {
	if a.Config.Source.Path == "" {
		return errors.New("source.path 未配置，无法导入 (use --input)")
	}

	name := opts.SourceName
	if name == "" {
		name = a.Config.Source.Path
	}

	load, err := a.newLoader(nil)
	if err != nil {
		return err
	}
	loaded, err := load(ctx)
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}

	a.Logger.Info().
		Str("source", name).
		Int("rows", len(loaded.Rows)).
		Int("dropped", loaded.Dropped).
		Msg("source parsed")

	if opts.DryRun {
		a.Logger.Warn().Msg("导入 dry-run：不会写入数据库")
		fmt.Fprintf(a.Out, "dry-run: %d row(s) would be imported, %d dropped\n", len(loaded.Rows), loaded.Dropped)
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法导入")
	}
	if closeStore != nil {
		defer closeStore()
	}

	inserted, err := store.InsertObservations(ctx, name, loaded.Rows)
	if err != nil {
		return err
	}

	total, err := store.CountObservations(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("failed to count observations")
	}

	a.Logger.Info().Int("inserted", inserted).Int64("stored_total", total).Msg("导入完成")
	fmt.Fprintf(a.Out, "imported %d row(s) from %s\n", inserted, name)
	return nil
}
