package dispatch

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/template"

	"zideebot/internal/pacing"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// MatchKind selects how a rule compares its keywords against a message.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchPrefix   MatchKind = "prefix"
	MatchContains MatchKind = "contains"
)

// CommandSpec is one declarative rule of the catalog.
type CommandSpec struct {
	Name     string      `yaml:"name"`
	Match    MatchKind   `yaml:"match"`
	Keywords []string    `yaml:"keywords"`
	Pace     pacing.Kind `yaml:"pace"`
}

// FAQEntry answers any message containing one of its keywords.
type FAQEntry struct {
	Key      string   `yaml:"key"`
	Keywords []string `yaml:"keywords"`
	Answer   string   `yaml:"answer"`
}

// AutoReply is a canned answer triggered by substrings (greeting, thanks).
type AutoReply struct {
	Keywords []string    `yaml:"keywords"`
	Pace     pacing.Kind `yaml:"pace"`
	Text     string      `yaml:"text"`
}

type catalogFile struct {
	BotName   string            `yaml:"botName"`
	Commands  []CommandSpec     `yaml:"commands"`
	FAQ       []FAQEntry        `yaml:"faq"`
	Greeting  AutoReply         `yaml:"greeting"`
	Thanks    AutoReply         `yaml:"thanks"`
	Texts     map[string]string `yaml:"texts"`
	Templates map[string]string `yaml:"templates"`
}

// Catalog is the parsed responder catalog. It is never mutated after
// construction; reloading builds a new Catalog.
type Catalog struct {
	botName   string
	source    string
	commands  []CommandSpec
	faq       []FAQEntry
	greeting  AutoReply
	thanks    AutoReply
	texts     map[string]string
	templates map[string]*template.Template
}

// Commands known to the executor. A catalog naming anything else is rejected.
var knownCommands = []string{
	CmdHelp, CmdTime, CmdInfo, CmdPing, CmdEcho, CmdStatus,
	CmdCalculate, CmdCalculatorMenu,
	CmdWeather, CmdForecast, CmdWeatherMenu,
	CmdAIChat, CmdPantun, CmdMotivasi, CmdTips, CmdTranslate, CmdAIMenu,
	CmdVideoDownload, CmdAudioDownload, CmdVideoInfo, CmdVideoMenu,
	CmdFAQMenu, CmdDebug, CmdRules,
	CmdGroupOpen, CmdGroupClose, CmdWelcome, CmdKick, CmdKickDebug,
}

var requiredTexts = []string{
	"error", "help", "ping", "calculator_menu", "weather_menu", "ai_menu",
	"faq_menu", "video_menu", "rules", "debug_private", "kick_usage",
	"kick_self", "video_invalid_url",
}

var requiredTemplates = []string{
	"time", "info", "echo", "ping_group", "calculate",
	"pantun", "motivasi", "tips", "translate", "status", "debug_group",
	"group_only", "sender_not_admin", "bot_not_admin",
	"group_opened", "group_closed", "group_action_failed", "system_error",
	"welcome", "kick_admin", "kick_not_found", "kick_done", "kick_failed", "kick_debug",
	"video_info", "video_caption", "video_failed",
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML, "builtin")
	if err != nil {
		panic(fmt.Sprintf("builtin catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog file. An empty path yields the builtin catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data, path)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte, source string) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", source, err)
	}

	var errs []string
	if f.BotName == "" {
		f.BotName = "ZideeBot"
	}
	if len(f.Commands) == 0 {
		errs = append(errs, "no commands defined")
	}
	for i, cmd := range f.Commands {
		if !slices.Contains(knownCommands, cmd.Name) {
			errs = append(errs, fmt.Sprintf("commands[%d]: unknown command %q", i, cmd.Name))
		}
		if cmd.Match != MatchExact && cmd.Match != MatchPrefix {
			errs = append(errs, fmt.Sprintf("commands[%d]: match must be exact or prefix, got %q", i, cmd.Match))
		}
		if len(cmd.Keywords) == 0 {
			errs = append(errs, fmt.Sprintf("commands[%d]: no keywords", i))
		}
	}
	seen := make(map[string]bool)
	for i, e := range f.FAQ {
		switch {
		case e.Key == "":
			errs = append(errs, fmt.Sprintf("faq[%d]: key is required", i))
		case seen[e.Key]:
			errs = append(errs, fmt.Sprintf("faq[%d]: duplicate key %q", i, e.Key))
		}
		seen[e.Key] = true
		if len(e.Keywords) == 0 || e.Answer == "" {
			errs = append(errs, fmt.Sprintf("faq[%d]: keywords and answer are required", i))
		}
	}
	for _, key := range requiredTexts {
		if f.Texts[key] == "" {
			errs = append(errs, fmt.Sprintf("texts.%s is required", key))
		}
	}

	tmpls := make(map[string]*template.Template, len(f.Templates))
	for name, body := range f.Templates {
		t, err := template.New(name).Option("missingkey=zero").Parse(body)
		if err != nil {
			errs = append(errs, fmt.Sprintf("templates.%s: %v", name, err))
			continue
		}
		tmpls[name] = t
	}
	for _, key := range requiredTemplates {
		if _, ok := f.Templates[key]; !ok {
			errs = append(errs, fmt.Sprintf("templates.%s is required", key))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog %s:\n  - %s", source, strings.Join(errs, "\n  - "))
	}

	if f.Greeting.Pace == pacing.None {
		f.Greeting.Pace = pacing.Greeting
	}
	if f.Thanks.Pace == pacing.None {
		f.Thanks.Pace = pacing.Greeting
	}

	return &Catalog{
		botName:   f.BotName,
		source:    source,
		commands:  lowerSpecs(f.Commands),
		faq:       f.FAQ,
		greeting:  f.Greeting,
		thanks:    f.Thanks,
		texts:     f.Texts,
		templates: tmpls,
	}, nil
}

func lowerSpecs(specs []CommandSpec) []CommandSpec {
	out := make([]CommandSpec, len(specs))
	for i, s := range specs {
		kws := make([]string, len(s.Keywords))
		for j, kw := range s.Keywords {
			kws[j] = strings.ToLower(strings.TrimSpace(kw))
		}
		s.Keywords = kws
		out[i] = s
	}
	return out
}

func (c *Catalog) BotName() string { return c.botName }

// Source is the file the catalog was loaded from, or "builtin".
func (c *Catalog) Source() string { return c.source }

// Text returns a static text by key.
func (c *Catalog) Text(key string) string { return c.texts[key] }

// Render executes a named template with data.
func (c *Catalog) Render(key string, data any) (string, error) {
	t, ok := c.templates[key]
	if !ok {
		return "", fmt.Errorf("catalog template %q not found", key)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return sb.String(), nil
}

// FAQ returns the entry for key.
func (c *Catalog) FAQ(key string) (FAQEntry, bool) {
	for _, e := range c.faq {
		if e.Key == key {
			return e, true
		}
	}
	return FAQEntry{}, false
}

func (c *Catalog) FAQEntries() []FAQEntry { return slices.Clone(c.faq) }

func (c *Catalog) Commands() []CommandSpec { return slices.Clone(c.commands) }

func (c *Catalog) Greeting() AutoReply { return c.greeting }

func (c *Catalog) Thanks() AutoReply { return c.thanks }
