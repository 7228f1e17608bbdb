package ginkgoadapter_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chriserin/ftplan/internal/adapter/ginkgoadapter"
	"github.com/chriserin/ftplan/internal/parser"
	"github.com/chriserin/ftplan/internal/plan"
	"github.com/chriserin/ftplan/internal/scope"
	"github.com/chriserin/ftplan/internal/tagexpr"
)

const calculatorFeature = `Feature: Calculator
  Scenario: Add two numbers
    Given two numbers 2 and 3
    When they are added
    Then the sum is 5

  Scenario Outline: Add <a> and <b>
    Given two numbers <a> and <b>
    When they are added
    Then the sum is <sum>

    Examples:
      | a | b | sum |
      | 1 | 1 | 2   |
      | 4 | 5 | 9   |

  @wip
  Scenario: Subtract
    Given two numbers 5 and 3
`

var (
	trace      []string
	calculator *plan.TestPlan
)

var _ = ginkgoadapter.Drive(calculatorPlan())

func calculatorPlan() *plan.TestPlan {
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
	tree.Before("global", func(*scope.HookContext) error {
		trace = append(trace, "before:global")
		return nil
	})
	tree.After("global", func(*scope.HookContext) error {
		trace = append(trace, "after:global")
		return nil
	})
	tree.Feature("Calculator", func() {
		tree.Before("feature", func(*scope.HookContext) error {
			trace = append(trace, "before:feature")
			return nil
		})
	})

	f, err := parser.Parse("features/calculator.feature", []byte(calculatorFeature))
	if err != nil {
		panic(err)
	}
	calculator, err = plan.BuildPlan(f, tree, plan.Options{Filter: tagexpr.MustParse("not @wip")})
	if err != nil {
		panic(err)
	}
	return calculator
}

var _ = AfterSuite(func() {
	execs := calculator.ListExecutables()
	Expect(execs).To(HaveLen(4))

	for _, e := range execs[:3] {
		Expect(e.Status()).To(Equal(plan.StatusPassed), e.Title)
	}
	Expect(execs[0].World()).To(HaveKeyWithValue("result", 5))
	Expect(execs[2].World()).To(HaveKeyWithValue("numbers", []int{4, 5}))

	Expect(execs[3].Status()).To(Equal(plan.StatusSkipped))
	Expect(execs[3].World()).To(BeNil())

	var want []string
	for i := 0; i < 3; i++ {
		want = append(want, "before:global", "before:feature", "after:global")
	}
	Expect(trace).To(Equal(want))
})
