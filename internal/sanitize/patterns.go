package sanitize

import "regexp"

// Pattern families for prompt-injection detection. Each family groups
// phrasings that try to subvert the pipeline in the same way; the family name
// is what gets recorded in RemovedPatterns and metrics.
type patternFamily struct {
	name     string
	patterns []*regexp.Regexp
}

var injectionFamilies = []patternFamily{
	{
		name: "instruction-override",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|messages?)`),
			regexp.MustCompile(`(?i)\bdisregard\s+(all\s+)?(previous|prior|your)\s+(instructions?|rules?|guidelines?)`),
			regexp.MustCompile(`(?i)\bforget\s+(everything|all|your\s+(instructions?|rules?|training))`),
			regexp.MustCompile(`(?i)\boverride\s+(your|all|the)\s+(instructions?|rules?|settings?)`),
			regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:`),
		},
	},
	{
		name: "system-prompt-extraction",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(show|reveal|print|repeat|display|output|tell)\b.{0,40}\b(system\s+prompt|initial\s+prompt|your\s+(instructions?|prompt|configuration))`),
			regexp.MustCompile(`(?i)\bwhat\s+(is|are|were)\s+your\s+(initial\s+)?(instructions?|system\s+prompt)`),
			regexp.MustCompile(`(?i)\bverbatim\b.{0,30}\b(prompt|instructions?)`),
		},
	},
	{
		name: "role-reassignment",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the|in)\b`),
			regexp.MustCompile(`(?i)\bact\s+as\s+(if\s+you\s+(were|are)\s+)?(a|an|the)\b`),
			regexp.MustCompile(`(?i)\bpretend\s+(to\s+be|you\s+are|that\s+you)`),
			regexp.MustCompile(`(?i)\bfrom\s+now\s+on\s+you\s+(are|will|must)`),
			regexp.MustCompile(`(?i)\bassume\s+the\s+role\s+of\b`),
		},
	},
	{
		name: "delimiter-injection",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\[INST\]|\[/INST\]`),
			regexp.MustCompile(`<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|endoftext\|>`),
			regexp.MustCompile(`(?i)^###\s*(system|instruction|admin)\b`),
			regexp.MustCompile(`(?i)\bBEGIN\s+SYSTEM\s+PROMPT\b`),
		},
	},
	{
		name: "data-exfiltration",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(send|post|upload|forward|exfiltrate)\b.{0,50}\b(https?://|ftp://|webhook)`),
			regexp.MustCompile(`(?i)\b(list|dump|export|show)\b.{0,40}\b(all\s+(users?|bookings?|carriers?|customers?)|credentials?|passwords?|api\s*keys?|tokens?)`),
			regexp.MustCompile(`(?i)\bevery\s+(user|carrier|customer)('s)?\s+(data|details?|records?)`),
		},
	},
	{
		name: "jailbreak",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bDAN\s+mode\b`),
			regexp.MustCompile(`(?i)\bdeveloper\s+mode\b`),
			regexp.MustCompile(`(?i)\bjail\s*break`),
			regexp.MustCompile(`(?i)\bwithout\s+(any\s+)?(restrictions?|filters?|limitations?|censorship)`),
			regexp.MustCompile(`(?i)\bno\s+ethical\s+(guidelines?|constraints?)`),
		},
	},
}

// Executable/markup content is removed unconditionally, whether or not
// injection phrasing is present.
var markupPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"script-tag", regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>|<script\b[^>]*/?>`)},
	{"iframe-tag", regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe>|<iframe\b[^>]*/?>`)},
	{"event-handler", regexp.MustCompile(`(?i)\bon\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)},
	{"script-uri", regexp.MustCompile(`(?i)\b(javascript|vbscript):\S*|data:text/html\S*`)},
}

var (
	zeroWidthRe  = regexp.MustCompile("[\u200B\u200C\u200D\u2060\uFEFF]")
	whitespaceRe = regexp.MustCompile(`[ \t]{2,}`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
)

var quoteReplacer = map[rune]rune{
	'‘': '\'', // left single quotation mark
	'’': '\'', // right single quotation mark
	'“': '"',  // left double quotation mark
	'”': '"',  // right double quotation mark
	'«': '"',  // left guillemet
	'»': '"',  // right guillemet
}
