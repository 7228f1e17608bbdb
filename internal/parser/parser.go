package parser

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
	"github.com/google/uuid"

	"github.com/chriserin/ftplan/internal/domain"
)

// gherkin reports errors as "(line:column): message", possibly several joined
// under a "Parser errors:" header.
var errorLocation = regexp.MustCompile(`\((\d+):(\d+)\): (.*)`)

// Parse compiles feature source into a SimpleFeature. Tokenizing is delegated to
// the cucumber gherkin parser; its document is normalized by transform.
// Malformed input yields a *domain.GherkinParseError and no feature.
func Parse(uri string, content []byte) (*SimpleFeature, error) {
	if len(bytes.TrimSpace(stripComments(content))) == 0 {
		return emptyFeature(uri), nil
	}

	doc, err := gherkin.ParseGherkinDocument(bytes.NewReader(content), (&messages.Incrementing{}).NewId)
	if err != nil {
		return nil, toParseError(uri, err)
	}
	if doc.Feature == nil {
		return emptyFeature(uri), nil
	}

	feature, err := transform(uri, doc.Feature)
	if err != nil {
		return nil, err
	}
	return feature, nil
}

func toParseError(uri string, err error) *domain.GherkinParseError {
	pe := &domain.GherkinParseError{URI: uri, Message: err.Error(), Cause: err}
	if m := errorLocation.FindStringSubmatch(err.Error()); m != nil {
		pe.Line, _ = strconv.Atoi(m[1])
		pe.Column, _ = strconv.Atoi(m[2])
		pe.Message = strings.TrimSpace(m[3])
	}
	return pe
}

// emptyFeature stands in for a file with no Feature: line, named after the file.
func emptyFeature(uri string) *SimpleFeature {
	return &SimpleFeature{
		ID:   nodeID(uri, "feature", Location{}),
		URI:  uri,
		Name: filenameWithoutExt(uri),
	}
}

func stripComments(content []byte) []byte {
	var out [][]byte
	for _, line := range bytes.Split(content, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("#")) {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func filenameWithoutExt(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	return name
}

// nodeID derives a stable id from the source location so that compiling the
// same text twice produces the same ids.
func nodeID(uri, kind string, loc Location) string {
	key := fmt.Sprintf("%s#%s:%d:%d", uri, kind, loc.Line, loc.Column)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

func derivedID(parent string, parts ...any) string {
	key := parent
	for _, p := range parts {
		key += fmt.Sprintf("/%v", p)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
