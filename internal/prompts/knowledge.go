package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_knowledge.yaml
var defaultKnowledgeYAML []byte

// Knowledge is the pedagogical reference text injected into prompts.
type Knowledge struct {
	VCOP             string            `yaml:"vcop_knowledge"`
	Grading          string            `yaml:"grading_knowledge"`
	ConnectiveLevels []ConnectiveLevel `yaml:"connective_levels"`
}

type ConnectiveLevel struct {
	Level int      `yaml:"level"`
	Words []string `yaml:"words"`
}

// DefaultKnowledge returns the built-in knowledge base.
func DefaultKnowledge() *Knowledge {
	var k Knowledge
	if err := yaml.Unmarshal(defaultKnowledgeYAML, &k); err != nil {
		panic(fmt.Sprintf("embedded knowledge is invalid: %v", err))
	}
	return &k
}

// LoadKnowledge reads a knowledge file. An empty path yields the built-in
// default; sections missing from the file fall back to the default too.
func LoadKnowledge(path string) (*Knowledge, error) {
	def := DefaultKnowledge()
	path = strings.TrimSpace(path)
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge: %w", err)
	}
	var k Knowledge
	if err := yaml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("parse knowledge yaml: %w", err)
	}
	if strings.TrimSpace(k.VCOP) == "" {
		k.VCOP = def.VCOP
	}
	if strings.TrimSpace(k.Grading) == "" {
		k.Grading = def.Grading
	}
	if len(k.ConnectiveLevels) == 0 {
		k.ConnectiveLevels = def.ConnectiveLevels
	}
	return &k, nil
}

// ConnectiveLevelOf returns the highest level whose word list contains word,
// or 0 when the word is not a known connective.
func (k *Knowledge) ConnectiveLevelOf(word string) int {
	word = strings.ToLower(strings.TrimSpace(word))
	best := 0
	for _, cl := range k.ConnectiveLevels {
		for _, w := range cl.Words {
			if strings.ToLower(w) == word && cl.Level > best {
				best = cl.Level
			}
		}
	}
	return best
}

func (k *Knowledge) connectiveLadder() string {
	var sb strings.Builder
	for _, cl := range k.ConnectiveLevels {
		sb.WriteString(fmt.Sprintf("- Level %d: %s\n", cl.Level, strings.Join(cl.Words, ", ")))
	}
	return sb.String()
}
