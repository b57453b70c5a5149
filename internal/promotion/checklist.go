package promotion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/model"
)

// ChecklistSource supplies the reviewer's quality gate answers.
// It is only consulted after the test suite has passed.
type ChecklistSource interface {
	Collect(ctx context.Context, artifact model.TestArtifact) (model.Checklist, error)
}

// Questions maps each checklist field to the question shown to a reviewer.
var Questions = map[string]string{
	model.ChecklistCriticalBehavior: "Does this test cover critical behavior?",
	model.ChecklistStability:        "Is it stable (no flaky timing, ordering or network)?",
	model.ChecklistClearAssertions:  "Are the assertions clear and specific?",
	model.ChecklistDocumented:       "Is the intent of the test documented?",
}

// Static returns a fixed checklist, e.g. one assembled from flags.
type Static struct {
	Checklist model.Checklist
}

func (s Static) Collect(context.Context, model.TestArtifact) (model.Checklist, error) {
	return s.Checklist, nil
}

// File reads a checklist from a YAML or JSON document.
type File struct {
	Path string
}

func (f File) Collect(context.Context, model.TestArtifact) (model.Checklist, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return model.Checklist{}, errclass.ErrConfiguration.WithMessagef("read checklist %s: %v", f.Path, err)
	}
	return ParseChecklist(data)
}

// ParseChecklist decodes a checklist document. Unknown keys are rejected so
// a misspelled field cannot silently count as false.
func ParseChecklist(data []byte) (model.Checklist, error) {
	var c model.Checklist
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return c, errclass.ErrConfiguration.WithMessage("checklist document is empty")
		}
		return c, errclass.ErrConfiguration.WithMessagef("parse checklist: %v", err)
	}
	return c, nil
}

// Prompter asks the reviewer each question in order on an interactive stream.
type Prompter struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewPrompter constructs a prompter from the provided reader and writer.
func NewPrompter(input io.Reader, output io.Writer) *Prompter {
	return &Prompter{reader: bufio.NewReader(input), writer: output}
}

func (p *Prompter) Collect(ctx context.Context, artifact model.TestArtifact) (model.Checklist, error) {
	var c model.Checklist
	if p.writer != nil {
		fmt.Fprintf(p.writer, "Review %s before it becomes golden.\n", artifact.ID)
	}
	for _, field := range model.ChecklistFields {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		ok, err := p.confirm(fmt.Sprintf("  %s [y/N] ", Questions[field]))
		if err != nil {
			return c, fmt.Errorf("read answer for %s: %w", field, err)
		}
		c.Set(field, ok)
	}
	return c, nil
}

// confirm treats y/yes as affirmative; anything else, including EOF, is no.
func (p *Prompter) confirm(prompt string) (bool, error) {
	if p.writer != nil {
		if _, err := io.WriteString(p.writer, prompt); err != nil {
			return false, err
		}
	}
	response, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.TrimSpace(strings.ToLower(response)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
