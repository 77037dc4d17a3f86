// Package variant defines model variants: (provider, model, config) triples
// with a deterministic display id. Two variants are equal iff their display
// ids are equal.
package variant

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config overlays recognized generation settings on provider defaults.
// Zero values mean "use default".
type Config struct {
	// Temperature controls sampling randomness. nil uses the default.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens limits response length. 0 uses the default.
	MaxTokens int `json:"maxTokens,omitempty"`

	// SystemPromptName selects a named system prompt, or carries an inline
	// prompt when it does not match a registered name.
	SystemPromptName string `json:"systemPromptName,omitempty"`

	// Timeout bounds one adapter call. 0 uses the default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// ThinkingBudget is a numeric token budget or a discrete effort tag
	// ("low", "medium", "high").
	ThinkingBudget string `json:"thinkingBudget,omitempty"`
}

// Variant identifies one benchmark participant.
type Variant struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Config   Config `json:"config"`
}

// canonicalKeys maps recognized spec keys (and aliases) to canonical names.
var canonicalKeys = map[string]string{
	"temp":             "temperature",
	"temperature":      "temperature",
	"maxtokens":        "maxTokens",
	"max_tokens":       "maxTokens",
	"tokens":           "maxTokens",
	"prompt":           "systemPromptName",
	"systemprompt":     "systemPromptName",
	"system_prompt":    "systemPromptName",
	"timeout":          "timeout",
	"thinking":         "thinkingBudget",
	"thinkingbudget":   "thinkingBudget",
	"thinking_budget":  "thinkingBudget",
	"reasoning":        "thinkingBudget",
	"reasoning_budget": "thinkingBudget",
}

// Parse parses a variant spec of the form "provider/model" optionally
// followed by "@k=v[;k=v...]". Unrecognized keys are rejected.
func Parse(spec string) (*Variant, error) {
	base := spec
	var configPart string
	if at := strings.Index(spec, "@"); at >= 0 {
		base = spec[:at]
		configPart = spec[at+1:]
	}

	slash := strings.Index(base, "/")
	if slash <= 0 || slash == len(base)-1 {
		return nil, fmt.Errorf("variant spec %q: want provider/model", spec)
	}

	v := &Variant{
		Provider: base[:slash],
		Model:    base[slash+1:],
	}

	if configPart == "" {
		return v, nil
	}

	for _, pair := range strings.Split(configPart, ";") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("variant spec %q: malformed pair %q", spec, pair)
		}
		key, ok := canonicalKeys[strings.ToLower(strings.TrimSpace(kv[0]))]
		if !ok {
			return nil, fmt.Errorf("variant spec %q: unknown key %q", spec, kv[0])
		}
		if err := v.Config.set(key, strings.TrimSpace(kv[1])); err != nil {
			return nil, fmt.Errorf("variant spec %q: %w", spec, err)
		}
	}
	return v, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "temperature":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("temperature %q: %w", value, err)
		}
		c.Temperature = &f
	case "maxTokens":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("maxTokens %q: %w", value, err)
		}
		c.MaxTokens = n
	case "systemPromptName":
		c.SystemPromptName = value
	case "timeout":
		// Accept plain seconds or Go duration syntax.
		if secs, err := strconv.Atoi(value); err == nil {
			c.Timeout = time.Duration(secs) * time.Second
		} else {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("timeout %q: %w", value, err)
			}
			c.Timeout = d
		}
	case "thinkingBudget":
		c.ThinkingBudget = value
	}
	return nil
}

// configPairs returns the non-default config entries as canonical k=v pairs.
func (c *Config) configPairs() []string {
	var pairs []string
	if c.Temperature != nil {
		pairs = append(pairs, "temperature="+strconv.FormatFloat(*c.Temperature, 'g', -1, 64))
	}
	if c.MaxTokens != 0 {
		pairs = append(pairs, "maxTokens="+strconv.Itoa(c.MaxTokens))
	}
	if c.SystemPromptName != "" {
		pairs = append(pairs, "systemPromptName="+c.SystemPromptName)
	}
	if c.Timeout != 0 {
		pairs = append(pairs, "timeout="+strconv.Itoa(int(c.Timeout/time.Second)))
	}
	if c.ThinkingBudget != "" {
		pairs = append(pairs, "thinkingBudget="+c.ThinkingBudget)
	}
	sort.Strings(pairs)
	return pairs
}

// DisplayID returns the deterministic identifier: "provider/model" optionally
// suffixed by "@k=v;..." with keys in sorted order, so equivalent configs
// share one id.
func (v *Variant) DisplayID() string {
	id := v.Provider + "/" + v.Model
	pairs := v.Config.configPairs()
	if len(pairs) == 0 {
		return id
	}
	return id + "@" + strings.Join(pairs, ";")
}

// Equal reports whether two variants have the same display id.
func (v *Variant) Equal(other *Variant) bool {
	if other == nil {
		return false
	}
	return v.DisplayID() == other.DisplayID()
}

func (v *Variant) String() string {
	return v.DisplayID()
}
