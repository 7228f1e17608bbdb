package parser

// GeneratePickles expands a feature into concrete test cases in declaration
// order: one pickle per Scenario and one per Examples row of each Scenario
// Outline. Ids depend only on source locations, so regenerating pickles for the
// same text yields the same ids.
func GeneratePickles(feature *SimpleFeature) []SimplePickle {
	var pickles []SimplePickle
	if feature == nil {
		return nil
	}
	scenarioIndex := 0
	ruleIndex := 0
	seen := make(occurrences)
	for _, child := range feature.Children {
		switch {
		case child.Rule != nil:
			pickles = append(pickles, rulePickles(feature, child.Rule, ruleIndex)...)
			ruleIndex++
		default:
			pickles = append(pickles, childPickles(feature, nil, -1, child, scenarioIndex, seen.next(child))...)
			scenarioIndex++
		}
	}
	return pickles
}

// occurrences numbers same-named scenarios, and separately outlines, within
// one feature or rule.
type occurrences map[string]int

func (o occurrences) next(child Child) int {
	var key string
	switch {
	case child.Scenario != nil:
		key = "scenario:" + child.Scenario.Name
	case child.Outline != nil:
		key = "outline:" + child.Outline.Name
	default:
		return 0
	}
	o[key]++
	return o[key]
}

// GeneratePickleByID returns the pickle with the given id, or nil when the
// feature does not produce one.
func GeneratePickleByID(feature *SimpleFeature, id string) *SimplePickle {
	for _, p := range GeneratePickles(feature) {
		if p.ID == id {
			return &p
		}
	}
	return nil
}

func rulePickles(feature *SimpleFeature, rule *SimpleRule, ruleIndex int) []SimplePickle {
	var pickles []SimplePickle
	seen := make(occurrences)
	for i, child := range rule.Children {
		pickles = append(pickles, childPickles(feature, rule, ruleIndex, child, i, seen.next(child))...)
	}
	return pickles
}

func childPickles(feature *SimpleFeature, rule *SimpleRule, ruleIndex int, child Child, index, occurrence int) []SimplePickle {
	base := Path{RuleIndex: ruleIndex, ScenarioIndex: index, Occurrence: occurrence, ExamplesIndex: -1, Row: -1}
	if rule != nil {
		base.Rule = rule.Name
	}

	if s := child.Scenario; s != nil {
		base.Scenario = s.Name
		id := derivedID(s.ID, "pickle")
		p := SimplePickle{
			ID:       id,
			URI:      feature.URI,
			Name:     s.Name,
			Tags:     tagUnion(feature.Tags, ruleTags(rule), s.Tags),
			Feature:  feature,
			Rule:     rule,
			Scenario: s,
			Path:     base,
		}
		p.Steps = pickleSteps(id, feature, rule, s.Steps, nil, nil, nil)
		return []SimplePickle{p}
	}

	o := child.Outline
	if o == nil {
		return nil
	}
	base.Scenario = o.Name
	base.Outline = true

	var pickles []SimplePickle
	flat := 0
	for gi, group := range o.Examples {
		for ri, row := range group.Rows {
			path := base
			path.Examples = group.Name
			path.ExamplesIndex = gi
			path.Row = ri

			id := derivedID(o.ID, "row", flat)
			flat++
			p := SimplePickle{
				ID:       id,
				URI:      feature.URI,
				Name:     substitute(o.Name, group.Header, row.Cells),
				Tags:     tagUnion(feature.Tags, ruleTags(rule), o.Tags, group.Tags),
				Feature:  feature,
				Rule:     rule,
				Outline:  o,
				Examples: group,
				Path:     path,
			}
			p.Steps = pickleSteps(id, feature, rule, o.Steps, group.Header, row.Cells, &row)
			pickles = append(pickles, p)
		}
	}
	return pickles
}

func pickleSteps(pickleID string, feature *SimpleFeature, rule *SimpleRule, own []SimpleStep, header, values []string, row *ExampleRow) []SimplePickleStep {
	var out []SimplePickleStep
	add := func(s SimpleStep, source StepSource, substituteRow bool) {
		ps := SimplePickleStep{
			ID:          derivedID(pickleID, "step", len(out)),
			Keyword:     s.Keyword,
			KeywordType: s.KeywordType,
			Text:        s.Text,
			Source:      source,
			AstNodeIDs:  []string{s.ID},
			DataTable:   s.DataTable,
			DocString:   s.DocString,
		}
		if substituteRow {
			ps.Text = substitute(s.Text, header, values)
			ps.DataTable = substituteTable(s.DataTable, header, values)
			ps.DocString = substituteDocString(s.DocString, header, values)
			ps.AstNodeIDs = append(ps.AstNodeIDs, row.ID)
		}
		out = append(out, ps)
	}

	if feature.Background != nil {
		for _, s := range feature.Background.Steps {
			add(s, SourceFeatureBackground, false)
		}
	}
	if rule != nil && rule.Background != nil {
		for _, s := range rule.Background.Steps {
			add(s, SourceRuleBackground, false)
		}
	}
	for _, s := range own {
		add(s, SourceScenario, row != nil)
	}
	return out
}

// substitute replaces <column> tokens with the row's values. Values may
// themselves reference other columns, so replacement repeats until the text is
// stable; the pass count is bounded to survive self-referencing cells.
func substitute(text string, header, values []string) string {
	if len(header) == 0 {
		return text
	}
	for pass := 0; pass <= len(header); pass++ {
		next := placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
			name := token[1 : len(token)-1]
			for i, h := range header {
				if h == name && i < len(values) {
					return values[i]
				}
			}
			return token
		})
		if next == text {
			break
		}
		text = next
	}
	return text
}

func substituteTable(t *DataTable, header, values []string) *DataTable {
	if t == nil {
		return nil
	}
	out := &DataTable{Rows: make([][]string, len(t.Rows))}
	for i, row := range t.Rows {
		out.Rows[i] = make([]string, len(row))
		for j, cell := range row {
			out.Rows[i][j] = substitute(cell, header, values)
		}
	}
	return out
}

func substituteDocString(d *DocString, header, values []string) *DocString {
	if d == nil {
		return nil
	}
	return &DocString{MediaType: d.MediaType, Content: substitute(d.Content, header, values)}
}

func ruleTags(rule *SimpleRule) []Tag {
	if rule == nil {
		return nil
	}
	return rule.Tags
}

func tagUnion(groups ...[]Tag) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, t := range g {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			out = append(out, t.Name)
		}
	}
	return out
}
