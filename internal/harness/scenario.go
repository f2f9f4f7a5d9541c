package harness

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/scenekeeper/internal/engine"
)

// Scenario defines a reconciliation scenario.
type Scenario struct {
	// Name uniquely identifies the scenario; it names the golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Identity is the user id the token resolves to. Default "42".
	Identity string `yaml:"identity,omitempty"`

	// NoToken runs without a credential, so every pass is quiescent.
	NoToken bool `yaml:"no_token,omitempty"`

	// Documents seeds the vault, keyed by vault path.
	Documents map[string]string `yaml:"documents"`

	// Linked is the bot's linked-thread batch.
	Linked []LinkedStep `yaml:"linked,omitempty"`

	// Threads is the live state of tracked threads, keyed by thread id.
	// Threads not listed answer as untracked.
	Threads map[string]ThreadStep `yaml:"threads,omitempty"`

	// Failures makes bot calls fail, keyed by call (identity,
	// linked_threads, thread_state) with "unauthorized" or "unavailable".
	Failures map[string]string `yaml:"failures,omitempty"`

	// Passes run in order.
	Passes []PassStep `yaml:"passes"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// LinkedStep is one linked-thread record.
type LinkedStep struct {
	Path       string   `yaml:"path"`
	Thread     string   `yaml:"thread"`
	Characters []string `yaml:"characters"`
}

// ThreadStep is the state of one tracked thread. Participants is omitted
// from the bot's answer when nil.
type ThreadStep struct {
	Replied      bool `yaml:"replied"`
	Participants *int `yaml:"participants,omitempty"`
}

// PassStep is one reconciliation pass.
type PassStep struct {
	// Trigger is manual, timer or document-change. Default manual.
	Trigger string `yaml:"trigger,omitempty"`

	// Path scopes the pass to one document.
	Path string `yaml:"path,omitempty"`

	// Threads replaces thread states before the pass runs.
	Threads map[string]ThreadStep `yaml:"threads,omitempty"`

	// Edit rewrites documents before the pass runs, as a user would.
	Edit map[string]string `yaml:"edit,omitempty"`

	Expect *PassExpect `yaml:"expect,omitempty"`
}

// PassExpect checks a pass result. Unset fields are not checked.
type PassExpect struct {
	Outcome   string `yaml:"outcome,omitempty"`
	Examined  *int   `yaml:"examined,omitempty"`
	Updated   *int   `yaml:"updated,omitempty"`
	Skipped   *int   `yaml:"skipped,omitempty"`
	Untracked *int   `yaml:"untracked,omitempty"`
	Failed    *int   `yaml:"failed,omitempty"`
}

// Assertion checks the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Path and Key select a document and front-block key.
	Path string `yaml:"path,omitempty"`
	Key  string `yaml:"key,omitempty"`

	// Value is the expected value (document_value).
	Value any `yaml:"value,omitempty"`

	// Kind and Contains select a notice (notice).
	Kind     string `yaml:"kind,omitempty"`
	Contains string `yaml:"contains,omitempty"`

	// Thread selects a thread (query_count).
	Thread string `yaml:"thread,omitempty"`

	// Count is the expected number (notice_count, query_count, journal_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertDocumentValue     = "document_value"
	AssertDocumentUnchanged = "document_unchanged"
	AssertNotice            = "notice"
	AssertNoticeCount       = "notice_count"
	AssertQueryCount        = "query_count"
	AssertJournalCount      = "journal_count"
)

// Failure modes for Scenario.Failures.
const (
	FailUnauthorized = "unauthorized"
	FailUnavailable  = "unavailable"
)

// Bot calls that can be made to fail.
const (
	CallIdentity      = "identity"
	CallLinkedThreads = "linked_threads"
	CallThreadState   = "thread_state"
)

// LoadScenario reads and parses a scenario file. Unknown fields are
// rejected so typos do not silently disable a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if sc.Identity == "" {
		sc.Identity = "42"
	}
	return &sc, nil
}

func validateScenario(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(sc.Passes) == 0 {
		return fmt.Errorf("at least one pass is required")
	}

	for _, call := range sortedKeys(sc.Failures) {
		switch call {
		case CallIdentity, CallLinkedThreads, CallThreadState:
		default:
			return fmt.Errorf("failures: unknown call %q", call)
		}
		switch mode := sc.Failures[call]; mode {
		case FailUnauthorized, FailUnavailable:
		default:
			return fmt.Errorf("failures.%s: unknown mode %q", call, mode)
		}
	}

	for i, l := range sc.Linked {
		if l.Path == "" {
			return fmt.Errorf("linked[%d]: path is required", i)
		}
	}

	for i, p := range sc.Passes {
		if p.Trigger != "" {
			if _, err := engine.ParseTriggerSource(p.Trigger); err != nil {
				return fmt.Errorf("passes[%d]: %w", i, err)
			}
		}
	}

	for i, a := range sc.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertDocumentValue:
		if a.Path == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: path and key are required for %s", index, a.Type)
		}
	case AssertDocumentUnchanged:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
	case AssertNotice:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for %s", index, a.Type)
		}
	case AssertQueryCount:
		if a.Thread == "" {
			return fmt.Errorf("assertions[%d]: thread is required for %s", index, a.Type)
		}
		fallthrough
	case AssertNoticeCount, AssertJournalCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
