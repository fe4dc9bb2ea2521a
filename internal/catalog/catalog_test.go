package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func sampleSchema() Schema {
	now := "CURRENT_TIMESTAMP"
	return Schema{Tables: []Table{
		{
			Name: "sales",
			Columns: []Column{
				{Name: "sale_id", DeclaredType: "INTEGER", PrimaryKey: true},
				{Name: "amount", DeclaredType: "DECIMAL(10,2)"},
				{Name: "created_at", DeclaredType: "TIMESTAMP", Nullable: true, Default: &now},
			},
			ForeignKeys: []ForeignKey{{Column: "customer_id", RefTable: "customers", RefColumn: "customer_id"}},
		},
		{
			Name:    "customers",
			Columns: []Column{{Name: "customer_id", DeclaredType: "INTEGER", PrimaryKey: true}},
		},
	}}
}

func TestDescribeRendersColumnsAndConstraints(t *testing.T) {
	want := "Table: sales\nColumns:\n" +
		"  - sale_id (INTEGER) PRIMARY KEY NOT NULL\n" +
		"  - amount (DECIMAL(10,2)) NOT NULL\n" +
		"  - created_at (TIMESTAMP) DEFAULT CURRENT_TIMESTAMP\n" +
		"Foreign keys:\n" +
		"  - customer_id references customers(customer_id)\n\n" +
		"Table: customers\nColumns:\n" +
		"  - customer_id (INTEGER) PRIMARY KEY NOT NULL"
	if got := Describe(sampleSchema()); got != want {
		t.Fatalf("Describe() =\n%s\nwant\n%s", got, want)
	}
}

func TestSummaryListsColumnNames(t *testing.T) {
	summary := Summary(sampleSchema())
	if len(summary["sales"]) != 3 || summary["sales"][1] != "amount" {
		t.Fatalf("summary = %#v", summary)
	}
	ordered := OrderedSummary(sampleSchema())
	if ordered[0].TableName != "sales" || ordered[1].TableName != "customers" {
		t.Fatalf("ordered = %#v", ordered)
	}
}

func TestBuilderRequiresTables(t *testing.T) {
	if _, err := NewBuilder().Schema(); !errors.Is(err, ErrNoTables) {
		t.Fatalf("error = %v", err)
	}
}

func TestCachedIntrospectorReusesSnapshot(t *testing.T) {
	source := &countingIntrospector{schema: sampleSchema()}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cached := NewCachedIntrospector(source, time.Minute)
	cached.Now = func() time.Time { return now }

	for range 3 {
		if _, err := cached.Introspect(context.Background()); err != nil {
			t.Fatalf("Introspect() error = %v", err)
		}
	}
	if source.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", source.calls.Load())
	}

	now = now.Add(2 * time.Minute)
	if _, err := cached.Introspect(context.Background()); err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if source.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", source.calls.Load())
	}
}

func TestCachedIntrospectorWithoutTTLAlwaysFetches(t *testing.T) {
	source := &countingIntrospector{schema: sampleSchema()}
	cached := NewCachedIntrospector(source, 0)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cached.Introspect(context.Background())
		}()
	}
	wg.Wait()
	if source.calls.Load() != 4 {
		t.Fatalf("calls = %d, want 4", source.calls.Load())
	}
}

func TestCachedIntrospectorDoesNotCacheErrors(t *testing.T) {
	source := &countingIntrospector{err: errors.New("down")}
	cached := NewCachedIntrospector(source, time.Minute)
	for range 2 {
		if _, err := cached.Introspect(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	}
	if source.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", source.calls.Load())
	}
}

func TestCachedIntrospectorInvalidateForcesRefresh(t *testing.T) {
	source := &countingIntrospector{schema: sampleSchema()}
	cached := NewCachedIntrospector(source, time.Hour)

	if _, err := cached.Introspect(context.Background()); err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	cached.Invalidate()
	if _, err := cached.Introspect(context.Background()); err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if source.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", source.calls.Load())
	}
}

func TestCachedIntrospectorRefreshSurvivesCallerCancellation(t *testing.T) {
	source := &gatedIntrospector{schema: sampleSchema(), started: make(chan struct{}), release: make(chan struct{})}
	cached := NewCachedIntrospector(source, time.Minute)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached.Introspect(firstCtx)
		firstErr <- err
	}()
	<-source.started

	type outcome struct {
		schema Schema
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		schema, err := cached.Introspect(context.Background())
		second <- outcome{schema, err}
	}()

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller error = %v, want context.Canceled", err)
	}
	close(source.release)

	got := <-second
	if got.err != nil {
		t.Fatalf("second caller error = %v", got.err)
	}
	if len(got.schema.Tables) != 2 {
		t.Fatalf("tables = %d", len(got.schema.Tables))
	}
	if source.sawCancel.Load() {
		t.Fatal("shared refresh observed the first caller's cancellation")
	}
	if !source.sawDeadline.Load() {
		t.Fatal("shared refresh ran without a deadline")
	}
}

// gatedIntrospector blocks its first call until release is closed.
type gatedIntrospector struct {
	schema      Schema
	started     chan struct{}
	release     chan struct{}
	once        sync.Once
	sawCancel   atomic.Bool
	sawDeadline atomic.Bool
}

func (g *gatedIntrospector) Introspect(ctx context.Context) (Schema, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	if ctx.Err() != nil {
		g.sawCancel.Store(true)
		return Schema{}, ctx.Err()
	}
	_, hasDeadline := ctx.Deadline()
	g.sawDeadline.Store(hasDeadline)
	return g.schema, nil
}

type countingIntrospector struct {
	schema Schema
	err    error
	calls  atomic.Int32
}

func (c *countingIntrospector) Introspect(context.Context) (Schema, error) {
	c.calls.Add(1)
	if c.err != nil {
		return Schema{}, c.err
	}
	return c.schema, nil
}
