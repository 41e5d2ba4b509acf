package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

// migrationLockKey serializes schema migration across server processes
// starting at the same time.
const migrationLockKey int64 = 0x6e657773666565

type migrationStep struct {
	name string
	run  func(tx *gorm.DB) error
}

func migrationSteps() []migrationStep {
	return []migrationStep{
		{name: "pre-auto-migrate", run: execScript(preAutoMigrateSQL)},
		{name: "auto-migrate", run: func(tx *gorm.DB) error {
			return tx.AutoMigrate(autoMigrateModels()...)
		}},
		{name: "post-auto-migrate", run: execScript(postAutoMigrateSQL)},
	}
}

// migrate runs every step in one transaction under an advisory lock.
func (p *Pool) migrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	return p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockKey).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		for _, step := range migrationSteps() {
			started := time.Now()
			if err := step.run(tx); err != nil {
				return fmt.Errorf("%s: %w", step.name, err)
			}
			p.log.Debug().Str("step", step.name).Dur("elapsed", time.Since(started)).Msg("migration step applied")
		}
		return nil
	})
}

func execScript(sqlText string) func(tx *gorm.DB) error {
	trimmed := strings.TrimSpace(sqlText)
	return func(tx *gorm.DB) error {
		if trimmed == "" {
			return nil
		}
		return tx.Exec(trimmed).Error
	}
}
