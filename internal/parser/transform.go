package parser

import (
	"fmt"
	"regexp"
	"strings"

	messages "github.com/cucumber/messages/go/v21"

	"github.com/chriserin/ftplan/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`<([^<>]+)>`)

// transform converts the gherkin document's feature into the normalized model.
func transform(uri string, f *messages.Feature) (*SimpleFeature, error) {
	loc := location(f.Location)
	feature := &SimpleFeature{
		ID:          nodeID(uri, "feature", loc),
		URI:         uri,
		Keyword:     f.Keyword,
		Name:        strings.TrimSpace(f.Name),
		Description: strings.TrimSpace(f.Description),
		Language:    f.Language,
		Location:    loc,
		Tags:        tags(f.Tags),
	}

	for _, child := range f.Children {
		switch {
		case child.Background != nil:
			feature.Background = background(uri, child.Background)
		case child.Rule != nil:
			rule, err := transformRule(uri, child.Rule)
			if err != nil {
				return nil, err
			}
			feature.Children = append(feature.Children, Child{Rule: rule})
		case child.Scenario != nil:
			c, err := scenarioChild(uri, child.Scenario)
			if err != nil {
				return nil, err
			}
			feature.Children = append(feature.Children, c)
		}
	}
	return feature, nil
}

func transformRule(uri string, r *messages.Rule) (*SimpleRule, error) {
	loc := location(r.Location)
	rule := &SimpleRule{
		ID:          nodeID(uri, "rule", loc),
		Keyword:     r.Keyword,
		Name:        strings.TrimSpace(r.Name),
		Description: strings.TrimSpace(r.Description),
		Location:    loc,
		Tags:        tags(r.Tags),
	}
	for _, child := range r.Children {
		switch {
		case child.Background != nil:
			rule.Background = background(uri, child.Background)
		case child.Scenario != nil:
			c, err := scenarioChild(uri, child.Scenario)
			if err != nil {
				return nil, err
			}
			rule.Children = append(rule.Children, c)
		}
	}
	return rule, nil
}

func background(uri string, b *messages.Background) *SimpleBackground {
	loc := location(b.Location)
	return &SimpleBackground{
		ID:       nodeID(uri, "background", loc),
		Keyword:  b.Keyword,
		Name:     strings.TrimSpace(b.Name),
		Location: loc,
		Steps:    steps(uri, b.Steps),
	}
}

func scenarioChild(uri string, s *messages.Scenario) (Child, error) {
	loc := location(s.Location)
	if !isOutline(s) {
		return Child{Scenario: &SimpleScenario{
			ID:          nodeID(uri, "scenario", loc),
			Keyword:     s.Keyword,
			Name:        strings.TrimSpace(s.Name),
			Description: strings.TrimSpace(s.Description),
			Location:    loc,
			Tags:        tags(s.Tags),
			Steps:       steps(uri, s.Steps),
		}}, nil
	}

	outline := &SimpleScenarioOutline{
		ID:          nodeID(uri, "outline", loc),
		Keyword:     s.Keyword,
		Name:        strings.TrimSpace(s.Name),
		Description: strings.TrimSpace(s.Description),
		Location:    loc,
		Tags:        tags(s.Tags),
		Steps:       steps(uri, s.Steps),
	}
	for _, ex := range s.Examples {
		outline.Examples = append(outline.Examples, examples(uri, ex))
	}
	if err := checkPlaceholders(uri, outline); err != nil {
		return Child{}, err
	}
	return Child{Outline: outline}, nil
}

func isOutline(s *messages.Scenario) bool {
	if len(s.Examples) > 0 {
		return true
	}
	kw := strings.ToLower(s.Keyword)
	return strings.Contains(kw, "outline") || strings.Contains(kw, "template")
}

func examples(uri string, e *messages.Examples) *SimpleExampleGroup {
	loc := location(e.Location)
	group := &SimpleExampleGroup{
		ID:       nodeID(uri, "examples", loc),
		Keyword:  e.Keyword,
		Name:     strings.TrimSpace(e.Name),
		Location: loc,
		Tags:     tags(e.Tags),
	}
	if e.TableHeader != nil {
		group.Header = cells(e.TableHeader)
	}
	for _, row := range e.TableBody {
		rowLoc := location(row.Location)
		group.Rows = append(group.Rows, ExampleRow{
			ID:       nodeID(uri, "row", rowLoc),
			Location: rowLoc,
			Cells:    cells(row),
		})
	}
	return group
}

// checkPlaceholders rejects outline names and step text that reference a column
// missing from one of its example tables, so that no pickle is left with an
// unresolved <token>.
func checkPlaceholders(uri string, o *SimpleScenarioOutline) error {
	for _, group := range o.Examples {
		if len(group.Rows) == 0 {
			continue
		}
		columns := make(map[string]bool, len(group.Header))
		for _, h := range group.Header {
			columns[h] = true
		}
		check := func(text string, loc Location) error {
			for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
				if !columns[m[1]] {
					return &domain.GherkinParseError{
						URI:     uri,
						Line:    loc.Line,
						Column:  loc.Column,
						Message: fmt.Sprintf("placeholder <%s> has no column in examples at line %d", m[1], group.Location.Line),
					}
				}
			}
			return nil
		}
		if err := check(o.Name, o.Location); err != nil {
			return err
		}
		for _, s := range o.Steps {
			if err := check(s.Text, s.Location); err != nil {
				return err
			}
		}
		for _, row := range group.Rows {
			if err := checkRow(uri, o, group.Header, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkRow substitutes one row and rejects a token left behind by a cell
// value such as <missing>.
func checkRow(uri string, o *SimpleScenarioOutline, header []string, row ExampleRow) error {
	texts := []string{o.Name}
	for _, s := range o.Steps {
		texts = append(texts, s.Text)
	}
	for _, text := range texts {
		if m := placeholderPattern.FindString(substitute(text, header, row.Cells)); m != "" {
			return &domain.GherkinParseError{
				URI:     uri,
				Line:    row.Location.Line,
				Column:  row.Location.Column,
				Message: fmt.Sprintf("examples row leaves placeholder %s unresolved", m),
			}
		}
	}
	return nil
}

// steps normalizes step keywords; And/But/* take the type of the step before.
func steps(uri string, in []*messages.Step) []SimpleStep {
	out := make([]SimpleStep, 0, len(in))
	prev := KeywordUnknown
	for _, s := range in {
		loc := location(s.Location)
		kt := keywordType(s.Keyword)
		if kt == KeywordUnknown {
			kt = prev
		}
		prev = kt

		step := SimpleStep{
			ID:          nodeID(uri, "step", loc),
			Keyword:     s.Keyword,
			KeywordType: kt,
			Text:        s.Text,
			Location:    loc,
		}
		if s.DataTable != nil {
			table := &DataTable{}
			for _, row := range s.DataTable.Rows {
				table.Rows = append(table.Rows, cells(row))
			}
			step.DataTable = table
		}
		if s.DocString != nil {
			step.DocString = &DocString{MediaType: s.DocString.MediaType, Content: s.DocString.Content}
		}
		out = append(out, step)
	}
	return out
}

func keywordType(keyword string) KeywordType {
	switch strings.TrimSpace(keyword) {
	case "Given":
		return KeywordContext
	case "When":
		return KeywordAction
	case "Then":
		return KeywordOutcome
	default:
		return KeywordUnknown
	}
}

func tags(in []*messages.Tag) []Tag {
	var out []Tag
	for _, t := range in {
		out = append(out, Tag{Name: t.Name, Location: location(t.Location)})
	}
	return out
}

func cells(row *messages.TableRow) []string {
	out := make([]string, 0, len(row.Cells))
	for _, c := range row.Cells {
		out = append(out, c.Value)
	}
	return out
}

func location(l *messages.Location) Location {
	if l == nil {
		return Location{}
	}
	return Location{Line: int(l.Line), Column: int(l.Column)}
}
