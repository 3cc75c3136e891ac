package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// namePattern 匹配以 .eth 结尾的点分名称。
const namePattern = `([a-z0-9][a-z0-9-]*(?:\.[a-z0-9-]+)*\.eth)\b`

const addressPattern = `(0x[0-9a-f]{40})\b`

// Rule 是一条具名的匹配规则。Build 根据捕获组构造载荷。
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Build   func(groups []string) (Payload, string, bool)
}

func compile(pattern string) *regexp.Regexp {
	pattern = strings.ReplaceAll(pattern, "NAME", namePattern)
	pattern = strings.ReplaceAll(pattern, "ADDRESS", addressPattern)
	return regexp.MustCompile(`(?i)` + pattern)
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

var recordPattern = regexp.MustCompile(`(?i)([a-z0-9][a-z0-9._-]*)\s*=\s*("[^"]*"|[^\s,;]+)`)

// parseRecords 解析 key=value 形式的文本记录。
func parseRecords(text string) map[string]string {
	matches := recordPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		out[strings.ToLower(m[1])] = strings.Trim(m[2], `"`)
	}
	return out
}

// DefaultRules 返回内置规则，按从具体到宽泛的顺序排列。
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "get-text",
			Pattern: compile(`\bget\s+text(?:\s+records?)?(?:\s+(?:for|of))?\s*:?\s*NAME(?:\s+key\s*:?\s*([a-z0-9._-]+))?`),
			Build: func(g []string) (Payload, string, bool) {
				return GetText{Name: lower(g[1]), Key: lower(g[2])}, "Get text records of " + lower(g[1]), true
			},
		},
		{
			Name:    "text-records",
			Pattern: compile(`\btext\s+records?\s+(?:for|of)\s*:?\s*NAME`),
			Build: func(g []string) (Payload, string, bool) {
				return GetText{Name: lower(g[1])}, "Get text records of " + lower(g[1]), true
			},
		},
		{
			Name:    "check-availability",
			Pattern: compile(`\bcheck\b[^:]*?\bavailab\w*\s*(?:of|for)?\s*:?\s*NAME`),
			Build: func(g []string) (Payload, string, bool) {
				return Check{Name: lower(g[1])}, "Check availability of " + lower(g[1]), true
			},
		},
		{
			Name:    "is-available",
			Pattern: compile(`\bis\s+NAME\s+(?:still\s+)?available`),
			Build: func(g []string) (Payload, string, bool) {
				return Check{Name: lower(g[1])}, "Check availability of " + lower(g[1]), true
			},
		},
		{
			Name:    "create",
			Pattern: compile(`\b(?:create|register)\b(?:\s+(?:an?|my|new|agent))*\s+ens(?:\s+name)?\s*:?\s*NAME`),
			Build: func(g []string) (Payload, string, bool) {
				return Create{Name: lower(g[1])}, "Register ENS name " + lower(g[1]), true
			},
		},
		{
			Name:    "resolve",
			Pattern: compile(`\b(?:resolve|look\s*up|who\s+is|address\s+of)\b(?:\s+ens)?\s*:?\s*NAME`),
			Build: func(g []string) (Payload, string, bool) {
				return Resolve{Name: lower(g[1])}, "Resolve " + lower(g[1]), true
			},
		},
		{
			Name:    "setup-profile",
			Pattern: compile(`\bset\s*up\s+(?:my\s+)?(?:agent\s+)?(?:ens\s+)?profile\b(?:\s*(?:for|of|:)\s*NAME)?`),
			Build: func(g []string) (Payload, string, bool) {
				return SetupProfile{Name: lower(g[1])}, "Set up ENS profile", true
			},
		},
		{
			Name:    "update",
			Pattern: compile(`\bupdate\b(?:\s+(?:my|the))?(?:\s+(?:agent|ens))*\s+(?:profile|text\s+records?|records?)\b(?:\s+(?:for|of|on)\s*:?\s*NAME)?(.*)$`),
			Build: func(g []string) (Payload, string, bool) {
				name := lower(g[1])
				desc := "Update text records"
				if name != "" {
					desc += " of " + name
				}
				return Update{Name: name, Records: parseRecords(g[2])}, desc, true
			},
		},
		{
			Name:    "link",
			Pattern: compile(`\blink\b(?:\s+ens)?\s*:?\s*NAME\s+(?:to|with)\s+ADDRESS`),
			Build: func(g []string) (Payload, string, bool) {
				return Link{Name: lower(g[1]), Address: g[2]}, fmt.Sprintf("Link %s to %s", lower(g[1]), g[2]), true
			},
		},
		{
			Name:    "ens-transfer",
			Pattern: compile(`\btransfer\s+(?:ens\s+)?(?:name\s+)?NAME\s+to\s+ADDRESS`),
			Build: func(g []string) (Payload, string, bool) {
				return Transfer{Name: lower(g[1]), To: g[2]}, fmt.Sprintf("Transfer %s to %s", lower(g[1]), g[2]), true
			},
		},
		{
			Name:    "register-agent",
			Pattern: compile(`\b(?:register|create|deploy)\s+(?:an?\s+)?(?:(payment|identity|community|ai)\s+)?agent\s*:?\s*NAME(?:\s+as\s+(?:an?\s+)?(payment|identity|community|ai)\b)?`),
			Build: func(g []string) (Payload, string, bool) {
				role := lower(g[1])
				if role == "" {
					role = lower(g[3])
				}
				return RegisterAgent{Name: lower(g[2]), Role: role}, "Register agent " + lower(g[2]), true
			},
		},
		{
			Name:    "payment",
			Pattern: compile(`\b(?:send|pay|transfer)\s+(\d+(?:\.\d+)?)\s*(?:eth|flow)?\s+to\s+(?:NAME|ADDRESS)(?:\s+(?:with\s+)?token\s+ADDRESS)?`),
			Build: func(g []string) (Payload, string, bool) {
				recipient := lower(g[2])
				if recipient == "" {
					recipient = g[3]
				}
				return Payment{Recipient: recipient, Amount: g[1], Token: g[4]},
					fmt.Sprintf("Send %s to %s", g[1], recipient), true
			},
		},
		{
			Name:    "create-wallet",
			Pattern: compile(`\bcreate\s+(?:an?\s+)?(?:new\s+)?multi[-\s]?sig(?:nature)?\s+wallet\b(?:\s*(?:for|named|called|:)?\s*NAME)?`),
			Build: func(g []string) (Payload, string, bool) {
				return CreateWallet{Name: lower(g[1])}, "Create multi-signature wallet", true
			},
		},
		{
			Name:    "create-dao",
			Pattern: compile(`\bcreate\s+(?:an?\s+)?(?:new\s+)?(?:community\s+)?dao\b(?:\s*(?:for|named|called|:)?\s*NAME)?`),
			Build: func(g []string) (Payload, string, bool) {
				return CreateDAO{Name: lower(g[1])}, "Create DAO", true
			},
		},
		{
			Name:    "issue-credential",
			Pattern: compile(`\bissue\s+(?:an?\s+)?(?:([\w ]+?)\s+)?(?:credential|badge)\s+to\s+ADDRESS`),
			Build: func(g []string) (Payload, string, bool) {
				title := strings.TrimSpace(g[1])
				return IssueCredential{Recipient: g[2], Title: title}, "Issue credential to " + g[2], true
			},
		},
	}
}

// Recognizer 按顺序应用规则，第一条命中的规则生效。
type Recognizer struct {
	rules []Rule
}

// NewRecognizer 创建识别器；未提供规则时使用 DefaultRules。
func NewRecognizer(rules ...Rule) *Recognizer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Recognizer{rules: rules}
}

// Detect 将文本解析为意图。没有规则命中时返回 false。
func (r *Recognizer) Detect(text string) (Intent, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Intent{}, false
	}
	for _, rule := range r.rules {
		groups := rule.Pattern.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		payload, description, ok := rule.Build(groups)
		if !ok {
			continue
		}
		return Intent{
			Type:        payload.intentType(),
			Payload:     payload,
			Confidence:  DefaultConfidence,
			Description: description,
		}, true
	}
	return Intent{}, false
}

// Rules 返回规则名称，按匹配顺序。
func (r *Recognizer) Rules() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

var defaultRecognizer = NewRecognizer()

// Detect 使用内置规则解析文本。
func Detect(text string) (Intent, bool) {
	return defaultRecognizer.Detect(text)
}

var confirmationKeywords = regexp.MustCompile(`(?i)\b(?:send|transfer|pay|confirm|execute|approve)\b`)

// RequiresConfirmation 在没有意图命中时判断文本是否像需要确认的操作。
func RequiresConfirmation(text string) bool {
	return confirmationKeywords.MatchString(text)
}
