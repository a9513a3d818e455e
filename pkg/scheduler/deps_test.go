package scheduler_test

import (
	"context"
	"os"
	"testing"

	"forgequeue/pkg/scheduler"
)

func TestDependencySatisfaction(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=forgequeue_test port=5432 sslmode=disable"
	}
	deps, err := scheduler.NewDependencyStore(dsn)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}

	ctx := context.Background()
	parent, child := "parent-job", "child-job"

	if err := deps.AddDependency(ctx, parent, child, scheduler.DependencyTypeHard); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	ok, err := deps.Satisfied(ctx, child)
	if err != nil {
		t.Fatalf("Satisfied: %v", err)
	}
	if ok {
		t.Fatal("expected unsatisfied before the parent ever completes")
	}

	if err := deps.RecordCompletion(ctx, parent, false); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	ok, err = deps.Satisfied(ctx, child)
	if err != nil {
		t.Fatalf("Satisfied: %v", err)
	}
	if ok {
		t.Fatal("a hard dependency must not be satisfied by a failed parent run")
	}

	if err := deps.RecordCompletion(ctx, parent, true); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	ok, err = deps.Satisfied(ctx, child)
	if err != nil {
		t.Fatalf("Satisfied: %v", err)
	}
	if !ok {
		t.Fatal("expected satisfied after the parent's last run succeeded")
	}
}

func TestSoftDependencySatisfiedByFailure(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=forgequeue_test port=5432 sslmode=disable"
	}
	deps, err := scheduler.NewDependencyStore(dsn)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}

	ctx := context.Background()
	parent, child := "soft-parent", "soft-child"

	if err := deps.AddDependency(ctx, parent, child, scheduler.DependencyTypeSoft); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := deps.RecordCompletion(ctx, parent, false); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}

	ok, err := deps.Satisfied(ctx, child)
	if err != nil {
		t.Fatalf("Satisfied: %v", err)
	}
	if !ok {
		t.Fatal("a soft dependency should be satisfied by any completion, including failure")
	}
}
