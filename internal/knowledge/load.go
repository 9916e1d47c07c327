package knowledge

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed corpus.yaml
var defaultCorpus []byte

// Corpus is the on-disk shape of a knowledge base. Sequence order in the
// file is the registration order of topics, entries and rules.
type Corpus struct {
	Greeting string       `yaml:"greeting"`
	Fallback string       `yaml:"fallback"`
	Overview OverviewSpec `yaml:"overview"`
	Topics   []TopicSpec  `yaml:"topics"`
}

type OverviewSpec struct {
	Topic    string   `yaml:"topic"`
	Subtopic string   `yaml:"subtopic"`
	Requires []string `yaml:"requires"`
}

type TopicSpec struct {
	Name    string      `yaml:"name"`
	Title   string      `yaml:"title"`
	Entries []EntrySpec `yaml:"entries"`
	Rules   []RuleSpec  `yaml:"rules"`
}

type EntrySpec struct {
	Subtopic string `yaml:"subtopic"`
	Body     string `yaml:"body"`
}

type RuleSpec struct {
	Name     string   `yaml:"name"`
	Entry    string   `yaml:"entry"`
	Triggers []string `yaml:"triggers"`
}

// Load decodes a YAML corpus and builds a validated Registry.
func Load(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Corpus
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding corpus: %w", err)
	}
	return Build(c)
}

func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()

	reg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Default builds the registry from the corpus compiled into the binary.
func Default() (*Registry, error) {
	return Load(bytes.NewReader(defaultCorpus))
}
