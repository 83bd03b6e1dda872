package prompt

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/islandproperties/concierge/backend/internal/model/chat"
	"github.com/islandproperties/concierge/backend/internal/model/persona"
)

// Verdict classifies a visitor message before it reaches the model.
type Verdict int

const (
	VerdictClean Verdict = iota
	VerdictEmpty
	VerdictTooLong
	VerdictInjection
	VerdictOffTopic
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictEmpty:
		return "empty"
	case VerdictTooLong:
		return "too-long"
	case VerdictInjection:
		return "injection"
	case VerdictOffTopic:
		return "off-topic"
	default:
		return "unknown"
	}
}

// Inspection is the result of Guard.Inspect.
type Inspection struct {
	Verdict   Verdict
	Sanitized string
	// Pattern is the deny-list expression that matched, if any.
	Pattern string
}

// DefaultMaxInputChars is the length ceiling in characters.
const DefaultMaxInputChars = 1000

var injectionPatterns = compileAll(
	`\b(ignore|disregard|forget|override|bypass)\b.{0,40}\b(instructions?|rules|prompts?|directions|guidelines|programming)\b`,
	`\bpretend\s+(to\s+be|you\s*(are|'re))\b`,
	`(^|\byou\s+(will\s+|must\s+|should\s+|can\s+)?(now\s+)?)act\s+as\b`,
	`\brole-?play\s+as\b`,
	`\byou\s+are\s+(now|no\s+longer)\b`,
	`\bfrom\s+now\s+on\s+you\b`,
	`\b(new|updated)\s+(instructions|persona|role)\b`,
	`(?-i:\bDAN\b)`,
	`\bDAN\s+mode\b`,
	`\bdo\s+anything\s+now\b`,
	`\bjailbr(ea|o)k`,
	`\bdeveloper\s+mode\b`,
	`\bsystem\s+prompt\b`,
	`\b(reveal|show|print|repeat|output)\b.{0,30}\b(your|the)\s+(initial\s+|hidden\s+)?(prompt|instructions|rules)\b`,
	`\[\s*/?\s*(system|inst|sys)\s*\]`,
	`<<\s*/?\s*sys\s*>>`,
	`<\|\s*im_(start|end)\s*\|>`,
	`(이전|위의?|모든|기존)\s*(지시|명령|지침|규칙|설정)\S*\s*(무시|잊어|잊고)`,
	`시스템\s*프롬프트`,
	`프롬프트\S*\s*(보여|알려|공개|출력)`,
	`(역할|캐릭터|페르소나)\S*\s*(바꿔|변경|바꾸)`,
	`척\s*(해|하세요|해줘|해\s*줘|하십시오)`,
	`탈옥`,
)

var offTopicPatterns = compileAll(
	`\b(write|generate|compose|create)\b.{0,30}\b(code|script|program|essay|poem|song|lyrics|(a|short|bedtime)\s+story)\b`,
	`\bgive\s+me\s+(a|some)\s+(code|script|poem|song|lyrics|essay|(short\s+|bedtime\s+)?story)\b`,
	`\b(in|using)\s+(python|javascript|typescript|java|golang|c\+\+|rust)\b`,
	`\btell\s+me\s+a\s+joke\b`,
	`\b(homework|assignment)\b`,
	`(코드|프로그램|노래|소설|시를|시\s*한\s*편)\S*\s*(작성|써\s*줘|만들어)`,
	`농담`,
)

var (
	directivePattern = regexp.MustCompile(`(?i)\[\s*/?\s*(system|inst|sys|assistant|user|developer)\s*\]|<<\s*/?\s*sys\s*>>|<\|[^|>]{0,32}\|>`)
	headingPattern   = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]*`)
	hashRunPattern   = regexp.MustCompile(`#{2,}`)
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+expr))
	}
	return out
}

// Guard applies the input hardening pipeline: length cap, markup sanitizing
// and the deny-list filter.
type Guard struct {
	maxChars int
}

// NewGuard creates a guard with the given character ceiling.
func NewGuard(maxChars int) *Guard {
	if maxChars <= 0 {
		maxChars = DefaultMaxInputChars
	}
	return &Guard{maxChars: maxChars}
}

// MaxChars reports the configured ceiling.
func (g *Guard) MaxChars() int {
	return g.maxChars
}

// Inspect classifies raw. The deny-list runs on both the raw and the
// sanitized text so markup cannot hide a phrase and stripping cannot
// assemble one.
func (g *Guard) Inspect(raw string) Inspection {
	if strings.TrimSpace(raw) == "" {
		return Inspection{Verdict: VerdictEmpty}
	}
	if utf8.RuneCountInString(raw) > g.maxChars {
		return Inspection{Verdict: VerdictTooLong}
	}
	if re := firstMatch(injectionPatterns, raw); re != nil {
		return Inspection{Verdict: VerdictInjection, Pattern: re.String()}
	}

	clean := Sanitize(raw)
	if re := firstMatch(injectionPatterns, clean); re != nil {
		return Inspection{Verdict: VerdictInjection, Sanitized: clean, Pattern: re.String()}
	}
	if clean == "" {
		return Inspection{Verdict: VerdictEmpty}
	}
	if re := firstMatch(offTopicPatterns, clean); re != nil {
		return Inspection{Verdict: VerdictOffTopic, Sanitized: clean, Pattern: re.String()}
	}
	return Inspection{Verdict: VerdictClean, Sanitized: clean}
}

// History returns the last window turns that are safe to replay to the
// model, and how many of them were dropped. Each turn is cut to the
// character ceiling and sanitized; turns with an unknown role, injection
// phrases or no text are dropped, as are off-topic visitor turns.
func (g *Guard) History(history []chat.Message, window int) ([]chat.Message, int) {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	out := make([]chat.Message, 0, len(history))
	dropped := 0
	for _, msg := range history {
		if msg.Role != chat.RoleUser && msg.Role != chat.RoleAssistant {
			dropped++
			continue
		}
		inspection := g.Inspect(Truncate(msg.Content, g.maxChars))
		switch inspection.Verdict {
		case VerdictClean:
		case VerdictOffTopic:
			if msg.Role == chat.RoleUser {
				dropped++
				continue
			}
		default:
			dropped++
			continue
		}
		out = append(out, chat.Message{Role: msg.Role, Content: inspection.Sanitized})
	}
	return out, dropped
}

// Truncate cuts s to at most limit characters.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func firstMatch(patterns []*regexp.Regexp, text string) *regexp.Regexp {
	for _, re := range patterns {
		if re.MatchString(text) {
			return re
		}
	}
	return nil
}

// Sanitize removes bracket directives, HTML markup and markdown heading runs,
// and collapses whitespace. Text inside script and style elements is dropped.
func Sanitize(raw string) string {
	text := directivePattern.ReplaceAllString(raw, " ")
	text = stripMarkup(text)
	text = headingPattern.ReplaceAllString(text, "")
	text = hashRunPattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

func stripMarkup(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return text
	}

	var (
		b    strings.Builder
		skip int
	)
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if isRawTextTag(name) {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if isRawTextTag(name) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}

func isRawTextTag(name []byte) bool {
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}

// DetectLanguage picks Korean when any Hangul character is present.
func DetectLanguage(text string) persona.Language {
	for _, r := range text {
		if unicode.Is(unicode.Hangul, r) {
			return persona.Korean
		}
	}
	return persona.English
}
