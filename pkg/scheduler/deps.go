package scheduler

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DependencyType mirrors the teacher's Dependency relationship
// strengths between two cron definitions in a DAG.
type DependencyType string

const (
	// DependencyTypeHard: child only fires once the parent's most
	// recent run succeeded.
	DependencyTypeHard DependencyType = "HARD"
	// DependencyTypeSoft: child fires once the parent has completed at
	// all, success or failure.
	DependencyTypeSoft DependencyType = "SOFT"
	// DependencyTypeConditional: reserved for outcome-branching DAGs;
	// currently evaluated the same as Hard.
	DependencyTypeConditional DependencyType = "CONDITIONAL"
)

type dependencyRow struct {
	ParentName string `gorm:"primaryKey"`
	ChildName  string `gorm:"primaryKey"`
	Type       string
	CreatedAt  time.Time
}

func (dependencyRow) TableName() string { return "job_dependencies" }

type completionRow struct {
	Name       string `gorm:"primaryKey"`
	Success    bool
	FinishedAt time.Time
}

func (completionRow) TableName() string { return "job_definition_completions" }

// Dependency is a parent -> child relationship between two cron
// Definitions, identified by Name.
type Dependency struct {
	ParentName string
	ChildName  string
	Type       DependencyType
}

// DependencyStore persists the DAG between cron definitions and the
// last known completion of each, so the Registrar can gate a child's
// next fire on its parents' outcomes.
type DependencyStore struct {
	db *gorm.DB
}

// NewDependencyStore opens a GORM connection and migrates its tables.
func NewDependencyStore(dsn string) (*DependencyStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("dependency store: %w", err)
	}
	if err := db.AutoMigrate(&dependencyRow{}, &completionRow{}); err != nil {
		return nil, fmt.Errorf("dependency store migration: %w", err)
	}
	return &DependencyStore{db: db}, nil
}

// NewDependencyStoreFromDB wraps an existing *gorm.DB, migrating its
// tables. Lets callers share one connection pool across the Postgres
// job store and the dependency store.
func NewDependencyStoreFromDB(db *gorm.DB) (*DependencyStore, error) {
	if err := db.AutoMigrate(&dependencyRow{}, &completionRow{}); err != nil {
		return nil, fmt.Errorf("dependency store migration: %w", err)
	}
	return &DependencyStore{db: db}, nil
}

// AddDependency registers child as depending on parent.
func (d *DependencyStore) AddDependency(ctx context.Context, parent, child string, typ DependencyType) error {
	row := dependencyRow{ParentName: parent, ChildName: child, Type: string(typ), CreatedAt: time.Now().UTC()}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "parent_name"}, {Name: "child_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"type"}),
	}).Create(&row).Error
}

// ParentsOf returns every dependency where child is the child side.
func (d *DependencyStore) ParentsOf(ctx context.Context, child string) ([]Dependency, error) {
	var rows []dependencyRow
	if err := d.db.WithContext(ctx).Where("child_name = ?", child).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Dependency, 0, len(rows))
	for _, r := range rows {
		out = append(out, Dependency{ParentName: r.ParentName, ChildName: r.ChildName, Type: DependencyType(r.Type)})
	}
	return out, nil
}

// RecordCompletion records the outcome of a definition's most recent
// run. Wired from worker middleware (see CompletionMiddleware) so the
// Registrar can evaluate dependents on the next tick.
func (d *DependencyStore) RecordCompletion(ctx context.Context, name string, success bool) error {
	row := completionRow{Name: name, Success: success, FinishedAt: time.Now().UTC()}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"success", "finished_at"}),
	}).Create(&row).Error
}

// Satisfied reports whether every parent dependency of child allows
// it to fire: a Hard or Conditional parent must have last completed
// successfully; a Soft parent only needs to have completed at all. A
// definition with no recorded dependencies is always satisfied.
func (d *DependencyStore) Satisfied(ctx context.Context, child string) (bool, error) {
	parents, err := d.ParentsOf(ctx, child)
	if err != nil {
		return false, err
	}
	for _, dep := range parents {
		var row completionRow
		err := d.db.WithContext(ctx).Where("name = ?", dep.ParentName).First(&row).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return false, nil // parent has never completed
			}
			return false, err
		}
		if dep.Type == DependencyTypeSoft {
			continue // any completion, success or failure, satisfies a soft edge
		}
		if !row.Success {
			return false, nil
		}
	}
	return true, nil
}
