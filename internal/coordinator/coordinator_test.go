package coordinator_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chriserin/ftplan/internal/adapter/local"
	"github.com/chriserin/ftplan/internal/config"
	"github.com/chriserin/ftplan/internal/coordinator"
	"github.com/chriserin/ftplan/internal/db"
	"github.com/chriserin/ftplan/internal/domain"
	"github.com/chriserin/ftplan/internal/events"
	"github.com/chriserin/ftplan/internal/logging"
	"github.com/chriserin/ftplan/internal/scope"
)

const addition = `Feature: Addition
  Scenario: Add two numbers
    Given two numbers 2 and 3
    When they are added
    Then the sum is 5

  @skip-me
  Scenario: Add later
    Given two numbers 1 and 1
`

const subtraction = `Feature: Subtraction
  Scenario: Subtract
    Given two numbers 5 and 3
    When they are subtracted
    Then the sum is 2
`

func calculatorTree() *scope.Tree {
	tree := scope.NewTree(nil)
	tree.Given("two numbers {int} and {int}", func(c *scope.StepContext) error {
		c.World["numbers"] = []int{c.Int(0), c.Int(1)}
		return nil
	})
	tree.When("they are added", func(c *scope.StepContext) error {
		nums := c.World["numbers"].([]int)
		c.World["result"] = nums[0] + nums[1]
		return nil
	})
	tree.Then("the sum is {int}", func(c *scope.StepContext) error {
		if got := c.World["result"]; got != c.Int(0) {
			return fmt.Errorf("sum is %v, want %d", got, c.Int(0))
		}
		return nil
	})
	return tree
}

func writeFeatures(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, src := range files {
		path := filepath.Join(root, "features", name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	}
	return root
}

func TestCoordinator_LoadAndRunLocal(t *testing.T) {
	root := writeFeatures(t, map[string]string{
		"addition.feature":         addition,
		"math/subtraction.feature": subtraction,
	})
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "ftplan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	store := db.NewStore(sqlDB, nil)

	cfg := config.Default()
	cfg.Tags = "not @skip-me"
	var out bytes.Buffer
	c, err := coordinator.New(coordinator.Options{
		Tree:   calculatorTree(),
		Config: cfg,
		Root:   root,
		Store:  store,
		Output: &out,
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Load())
	plans := c.Plans()
	require.Len(t, plans, 2)
	assert.Equal(t, "features/addition.feature", plans[0].Feature.URI)
	assert.Equal(t, "features/math/subtraction.feature", plans[1].Feature.URI)

	rep := c.RunLocal(context.Background())

	add, ok := rep.Test("Addition Add two numbers")
	require.True(t, ok)
	assert.Equal(t, local.Passed, add.Status)
	later, ok := rep.Test("Addition Add later")
	require.True(t, ok)
	assert.Equal(t, local.Skipped, later.Status)
	sub, ok := rep.Test("Subtraction Subtract")
	require.True(t, ok)
	assert.Equal(t, local.Failed, sub.Status)
	var matchErr *domain.StepMatchError
	assert.ErrorAs(t, sub.Err, &matchErr)

	execs := plans[0].ListExecutables()
	assert.Equal(t, map[string]any{"numbers": []int{2, 3}, "result": 5}, map[string]any(execs[0].World()))
	assert.Nil(t, execs[1].World())

	assert.Equal(t, map[string]int{"passed": 1, "skipped": 1, "failed": 1}, c.Counts())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().Runs))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().Executables.WithLabelValues("failed")))

	ctx := context.Background()
	run, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.RunID(), run.ID)
	assert.Equal(t, 1, run.Counts["passed"])
	assert.Equal(t, 1, run.Counts["failed"])

	rows, err := store.List(ctx, db.ListFilter{Status: "passed"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Add two numbers", rows[0].Name)

	assert.Contains(t, out.String(), "3 executables: 1 passed, 1 failed, 1 skipped, 0 pending")
}

func TestCoordinator_ParseErrorAbortsLoad(t *testing.T) {
	root := writeFeatures(t, map[string]string{
		"good.feature": addition,
		"zbad.feature": "Feature: Bad\n  Scenario Outline: <missing>\n    Given a step\n    Examples:\n      | x |\n      | 1 |\n",
	})
	c, err := coordinator.New(coordinator.Options{Tree: calculatorTree(), Root: root})
	require.NoError(t, err)

	err = c.Load()
	require.Error(t, err)
	var parseErr *domain.GherkinParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Empty(t, c.Plans())
}

func TestCoordinator_RegistrationErrorAbortsLoad(t *testing.T) {
	tree := calculatorTree()
	tree.Given("two numbers {int} and {int}", func(*scope.StepContext) error { return nil })

	c, err := coordinator.New(coordinator.Options{Tree: tree})
	require.NoError(t, err)
	_, err = c.LoadSource("features/addition.feature", []byte(addition))
	assert.ErrorContains(t, err, "step registration failed")
}

func TestCoordinator_NoFeaturesWarns(t *testing.T) {
	log, logs := logging.NewObserved()
	c, err := coordinator.New(coordinator.Options{Tree: calculatorTree(), Root: t.TempDir(), Logger: log})
	require.NoError(t, err)

	require.NoError(t, c.Load())
	assert.Equal(t, 1, logs.FilterMessage("no feature files found").Len())

	rep := c.RunLocal(context.Background())
	assert.Empty(t, rep.Tests)
	assert.Empty(t, c.Finish())
}

func TestCoordinator_RequiresTree(t *testing.T) {
	_, err := coordinator.New(coordinator.Options{})
	assert.Error(t, err)
}

func TestCoordinator_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retries = -2
	_, err := coordinator.New(coordinator.Options{Tree: calculatorTree(), Config: cfg})
	assert.ErrorContains(t, err, "retries")
}

func TestCoordinator_EventsCarryRunID(t *testing.T) {
	c, err := coordinator.New(coordinator.Options{Tree: calculatorTree()})
	require.NoError(t, err)
	_, err = c.LoadSource("features/addition.feature", []byte(addition))
	require.NoError(t, err)

	var kinds []events.Kind
	var runIDs []string
	c.Bus().Subscribe(events.ListenerFunc(func(e events.Event) {
		if e.Kind == events.RunStarted || e.Kind == events.RunFinished {
			kinds = append(kinds, e.Kind)
			runIDs = append(runIDs, e.RunID)
		}
	}))

	c.RunLocal(context.Background())
	c.Finish()

	assert.Equal(t, []events.Kind{events.RunStarted, events.RunFinished}, kinds)
	assert.Equal(t, []string{c.RunID(), c.RunID()}, runIDs)
}

func TestCoordinator_RunT(t *testing.T) {
	cfg := config.Default()
	cfg.Tags = "not @skip-me"
	c, err := coordinator.New(coordinator.Options{Tree: calculatorTree(), Config: cfg})
	require.NoError(t, err)
	_, err = c.LoadSource("features/addition.feature", []byte(addition))
	require.NoError(t, err)

	rep := c.RunT(t)
	assert.Equal(t, map[local.Status]int{local.Passed: 1, local.Skipped: 1}, rep.Counts())
}
