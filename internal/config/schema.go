package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/adhocore/gronx"
)

//go:embed schema.cue
var schemaCUE string

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0]
	}
	msg := fmt.Sprintf("invalid config (%d problems):", len(e.Problems))
	for _, p := range e.Problems {
		msg += "\n  - " + p
	}
	return msg
}

// document is the JSON view the schema is checked against.
type document struct {
	APIURL           string   `json:"api_url"`
	Token            string   `json:"token"`
	Vault            string   `json:"vault"`
	ScenesFolder     string   `json:"scenes_folder"`
	Identities       []string `json:"identities"`
	Schedule         string   `json:"schedule"`
	SettleDelayMS    int64    `json:"settle_delay_ms"`
	RequestTimeoutMS int64    `json:"request_timeout_ms"`
	RateLimit        float64  `json:"rate_limit"`
	RateBurst        int      `json:"rate_burst"`
	Database         string   `json:"database"`
	MetricsAddr      string   `json:"metrics_addr"`
	LogLevel         string   `json:"log_level"`
}

// Validate checks c against the embedded CUE schema and checks that the
// schedule is a valid cron expression.
func (c *Config) Validate() error {
	doc := document{
		APIURL:           c.APIURL,
		Token:            c.Token,
		Vault:            c.Vault,
		ScenesFolder:     c.ScenesFolder,
		Identities:       c.Identities,
		Schedule:         c.Schedule,
		SettleDelayMS:    c.SettleDelay.Milliseconds(),
		RequestTimeoutMS: c.RequestTimeout.Milliseconds(),
		RateLimit:        c.RateLimit,
		RateBurst:        c.RateBurst,
		Database:         c.Database,
		MetricsAddr:      c.MetricsAddr,
		LogLevel:         c.LogLevel,
	}
	if doc.Identities == nil {
		doc.Identities = []string{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	var problems []string

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("compile config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, describe(e))
		}
	}

	if c.Schedule != "" && !gronx.IsValid(c.Schedule) {
		problems = append(problems, fmt.Sprintf("schedule: %q is not a valid cron expression", c.Schedule))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// describe renders one CUE error as "field.path: message".
func describe(e cueerrors.Error) string {
	format, args := e.Msg()
	msg := fmt.Sprintf(format, args...)
	path := e.Path()
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	if len(path) == 0 {
		return msg
	}
	return fmt.Sprintf("%s: %s", strings.Join(path, "."), msg)
}
