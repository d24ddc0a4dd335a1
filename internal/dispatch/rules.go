package dispatch

import (
	"strings"
	"unicode"

	"zideebot/internal/pacing"
)

// Command names.
const (
	CmdHelp           = "help"
	CmdTime           = "time"
	CmdInfo           = "info"
	CmdPing           = "ping"
	CmdEcho           = "echo"
	CmdStatus         = "status"
	CmdCalculate      = "calculate"
	CmdCalculatorMenu = "calculator_menu"
	CmdWeather        = "weather"
	CmdForecast       = "forecast"
	CmdWeatherMenu    = "weather_menu"
	CmdAIChat         = "ai_chat"
	CmdPantun         = "pantun"
	CmdMotivasi       = "motivasi"
	CmdTips           = "tips"
	CmdTranslate      = "translate"
	CmdAIMenu         = "ai_menu"
	CmdVideoDownload  = "video_download"
	CmdAudioDownload  = "audio_download"
	CmdVideoInfo      = "video_info"
	CmdVideoMenu      = "video_menu"
	CmdFAQMenu        = "faq_menu"
	CmdDebug          = "debug"
	CmdRules          = "rules"
	CmdGroupOpen      = "group_open"
	CmdGroupClose     = "group_close"
	CmdWelcome        = "welcome"
	CmdKick           = "kick"
	CmdKickDebug      = "kick_debug"
	CmdGreeting       = "greeting"
	CmdThanks         = "thanks"
	CmdUnrecognized   = "unrecognized"

	// FAQPrefix prefixes the FAQ entry key in the command name.
	FAQPrefix = "faq_"
)

// Rule is one entry of the ordered rule list.
type Rule struct {
	Command  string
	Kind     MatchKind
	Keywords []string
	Pace     pacing.Kind
}

// Classification is the result of classifying a message.
type Classification struct {
	Command string
	// Argument is the raw text after a prefix keyword and its space, in its
	// original casing and untrimmed.
	Argument string
	// Keyword is the keyword that matched.
	Keyword string
	Pace    pacing.Kind
}

// Recognized reports whether the message maps to a command.
func (c Classification) Recognized() bool {
	return c.Command != "" && c.Command != CmdUnrecognized
}

// DefaultRules flattens the catalog into the ordered rule list: catalog
// commands in file order, then FAQ entries, then greeting, then thanks.
func DefaultRules(cat *Catalog) []Rule {
	var rules []Rule
	for _, spec := range cat.Commands() {
		rules = append(rules, Rule{
			Command:  spec.Name,
			Kind:     spec.Match,
			Keywords: spec.Keywords,
			Pace:     spec.Pace,
		})
	}
	for _, e := range cat.FAQEntries() {
		rules = append(rules, Rule{
			Command:  FAQPrefix + e.Key,
			Kind:     MatchContains,
			Keywords: lowerAll(e.Keywords),
			Pace:     pacing.AutoReply,
		})
	}
	if g := cat.Greeting(); len(g.Keywords) > 0 {
		rules = append(rules, Rule{Command: CmdGreeting, Kind: MatchContains, Keywords: lowerAll(g.Keywords), Pace: g.Pace})
	}
	if t := cat.Thanks(); len(t.Keywords) > 0 {
		rules = append(rules, Rule{Command: CmdThanks, Kind: MatchContains, Keywords: lowerAll(t.Keywords), Pace: t.Pace})
	}
	return rules
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Classifier maps message text to a command. It holds an immutable rule list
// and is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Rules returns a copy of the rule list in precedence order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify tests the rules in order and returns the first match.
func (c *Classifier) Classify(text string) Classification {
	// Prefix arguments are the raw tail after "<keyword> ", trailing
	// whitespace included.
	raw := strings.TrimLeftFunc(text, unicode.IsSpace)
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return Classification{Command: CmdUnrecognized}
	}

	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			switch r.Kind {
			case MatchExact:
				if lower == kw {
					return Classification{Command: r.Command, Keyword: kw, Pace: r.Pace}
				}
			case MatchPrefix:
				if arg, ok := cutPrefixFold(raw, kw+" "); ok {
					return Classification{Command: r.Command, Argument: arg, Keyword: kw, Pace: r.Pace}
				}
			case MatchContains:
				if strings.Contains(lower, kw) {
					return Classification{Command: r.Command, Keyword: kw, Pace: r.Pace}
				}
			}
		}
	}
	return Classification{Command: CmdUnrecognized}
}

// cutPrefixFold is strings.CutPrefix with case folding. The remainder keeps
// the original casing.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
