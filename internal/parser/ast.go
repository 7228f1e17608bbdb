package parser

// Normalized feature model. Nodes are immutable once Parse returns.

type Location struct {
	Line   int
	Column int
}

type Tag struct {
	Name     string // e.g. "@smoke"
	Location Location
}

// KeywordType is the semantic role of a step keyword.
type KeywordType string

const (
	KeywordContext KeywordType = "context" // Given
	KeywordAction  KeywordType = "action"  // When
	KeywordOutcome KeywordType = "outcome" // Then
	KeywordUnknown KeywordType = "unknown" // leading And/But/*
)

type SimpleFeature struct {
	ID          string
	URI         string
	Keyword     string
	Name        string
	Description string
	Language    string
	Location    Location
	Tags        []Tag
	Background  *SimpleBackground
	Children    []Child
}

// Child is exactly one of Rule, Scenario or Outline.
type Child struct {
	Rule     *SimpleRule
	Scenario *SimpleScenario
	Outline  *SimpleScenarioOutline
}

type SimpleRule struct {
	ID          string
	Keyword     string
	Name        string
	Description string
	Location    Location
	Tags        []Tag
	Background  *SimpleBackground
	Children    []Child // Scenario or Outline only
}

type SimpleBackground struct {
	ID       string
	Keyword  string
	Name     string
	Location Location
	Steps    []SimpleStep
}

type SimpleScenario struct {
	ID          string
	Keyword     string
	Name        string
	Description string
	Location    Location
	Tags        []Tag
	Steps       []SimpleStep
}

type SimpleScenarioOutline struct {
	ID          string
	Keyword     string
	Name        string
	Description string
	Location    Location
	Tags        []Tag
	Steps       []SimpleStep
	Examples    []*SimpleExampleGroup
}

type SimpleExampleGroup struct {
	ID       string
	Keyword  string
	Name     string
	Location Location
	Tags     []Tag
	Header   []string
	Rows     []ExampleRow
}

type ExampleRow struct {
	ID       string
	Location Location
	Cells    []string
}

type SimpleStep struct {
	ID          string
	Keyword     string // including trailing space, e.g. "Given "
	KeywordType KeywordType
	Text        string
	Location    Location
	DataTable   *DataTable
	DocString   *DocString
}

type DataTable struct {
	Rows [][]string
}

type DocString struct {
	MediaType string
	Content   string
}

// StepSource records where a pickle step was declared.
type StepSource string

const (
	SourceFeatureBackground StepSource = "feature-background"
	SourceRuleBackground    StepSource = "rule-background"
	SourceScenario          StepSource = "scenario"
)

// Path locates a pickle inside its feature by declared names and indices.
// The plan builder uses it to find the matching scope node.
type Path struct {
	Rule          string
	RuleIndex     int // -1 when the pickle is not inside a rule
	Scenario      string
	ScenarioIndex int
	// Occurrence counts scenarios of the same kind and name at this level,
	// starting at 1.
	Occurrence    int
	Outline       bool
	Examples      string
	ExamplesIndex int // -1 for plain scenarios
	Row           int // -1 for plain scenarios
}

type SimplePickle struct {
	ID    string
	URI   string
	Name  string
	Steps []SimplePickleStep
	Tags  []string // union of feature, rule, scenario and examples tags

	Feature  *SimpleFeature
	Rule     *SimpleRule
	Scenario *SimpleScenario
	Outline  *SimpleScenarioOutline
	Examples *SimpleExampleGroup
	Path     Path
}

type SimplePickleStep struct {
	ID          string
	Keyword     string
	KeywordType KeywordType
	Text        string
	Source      StepSource
	AstNodeIDs  []string
	DataTable   *DataTable
	DocString   *DocString
}

// HasTag reports whether the pickle carries tag, with or without the leading "@".
func (p *SimplePickle) HasTag(tag string) bool {
	if len(tag) > 0 && tag[0] != '@' {
		tag = "@" + tag
	}
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TagNames flattens tags to their names.
func TagNames(tags []Tag) []string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}
