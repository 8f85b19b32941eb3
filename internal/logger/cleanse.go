package logger

import (
	"net"
	"regexp"
	"sort"
	"strings"
)

const removed = "(removed)"

// cleansingRule redacts every capture group whose name starts with
// "secret". Scanning resumes right after the last redacted secret, so the
// delimiter that ended one secret can open the next match.
type cleansingRule struct {
	pattern *regexp.Regexp
	// skip rejects a match the pattern cannot exclude by itself.
	skip func(re *regexp.Regexp, s string, m []int) bool
	// repeat re-applies the rule until nothing changes; for patterns whose
	// secrets repeat inside one URL.
	repeat bool
}

func rule(expr string) cleansingRule {
	return cleansingRule{pattern: regexp.MustCompile(expr)}
}

// cleansingRules is applied in order; later rules see the output of
// earlier ones.
var cleansingRules = []cleansingRule{
	// Url
	rule(`(?i)[?&: ;](?:apikey|api_key|(?:(?:access|api)[-_]?)?token|pass(?:key|wd)?|auth|authkey|user|u?id|api|[a-z_]*apikey|account|pid|pwd)=(?P<secret>[^&="]+?)(?:[ "&=]|$)`),
	{
		pattern: regexp.MustCompile(`(?i)[?& ;](?P<key>[^=]*?(?:_?token|username|passwo?rd))=(?P<secret>[^&="]+?)(?: |&|$|;|")`),
		skip:    skipUseToken("key"),
	},
	{
		pattern: regexp.MustCompile(`(?i)rss\.torrentleech\.org/(?P<secret>[0-9a-z]+)`),
		skip: func(re *regexp.Regexp, s string, m []int) bool {
			return strings.HasPrefix(strings.ToLower(groupValue(re, s, m, "secret")), "rss")
		},
	},
	rule(`(?i)rss\.torrentleech\.org/rss/download/[0-9]+/(?P<secret>[0-9a-z]+)`),
	rule(`(?i)torrentleech\.org/rss/download/[0-9]+/(?P<secret>[0-9a-z]+)`),
	{
		pattern: regexp.MustCompile(`(?i)iptorrents\.com/[/a-z0-9?&;=()]*?[?&;](?:u|tp)=(?P<secret>[^&=;( \n]+)`),
		repeat:  true,
	},
	rule(`/fetch/[a-z0-9]{32}/(?P<secret>[a-z0-9]{32})`),
	rule(`(?i)getnzb.*?[?&]r=(?P<secret>[^&= ]+)`),
	{
		pattern: regexp.MustCompile(`(?i)\b(?P<key>\w*(?:_?token|username|passwo?rd))=(?P<secret>[^&= ;"]+)`),
		skip:    skipUseToken("key"),
	},
	rule(`(?i)-hd\.me/torrent/[a-z0-9-]\.[0-9]+\.(?P<secret>[0-9a-z]+)\.torrent`),
	rule(`(?i)[?&](?:authkey|torrent_pass)=(?P<secret>[^&="]+)`),

	// Path
	rule(`(?i)C:\\Users\\(?P<secret>[^\\"]+?)(?:\\|$)`),
	rule(`(?i)/home/(?P<secret>[^/"]+?)(?:/|$)`),

	// NzbGet
	rule(`(?i)"Name"\s*:\s*"[^"]+?"\s*,\s*"Value"\s*:\s*"(?P<secret>[^"]+?)"`),

	// Sabnzbd
	rule(`(?i)"[^"]*(?:username|password|api_?key|nzb_key)"\s*:\s*"(?P<secret>[^"]+?)"`),
	rule(`(?i)"email_(?:account|to|from|pwd)"\s*:\s*"(?P<secret>[^"]+?)"`),

	// uTorrent
	rule(`(?i)\["[a-z._]*(?:username|password)",\d,"(?P<secret>[^"]+?)"`),
	rule(`(?i)\["(?:boss_key|boss_key_salt|proxy\.proxy)",\d,"(?P<secret>[^"]+?)"`),

	// Deluge
	rule(`(?i)auth\.login\("(?P<secret>[^"]+?)"`),

	// BroadcastheNet
	rule(`(?i)"?method"?\s*:\s*"getTorrents",\s*"?params"?\s*:\s*\[\s*"(?P<secret>[^"]+?)"`),
	rule(`(?i)getTorrents\("(?P<secret>[^"]+?)"`),

	// Plex
	rule(`(?i)[?&](?:X-Plex-Client-Identifier|X-Plex-Token)=(?P<secret>[^&= ]+)`),

	// Indexer responses
	rule(`(?i)avistaz\.[a-z]{2,3}\\/rss\\/download\\/(?P<secret>[^&=\\]+?)\\/(?P<secret2>[^&=\\]+?)\.torrent`),
	rule(`(?i)"download_link"\s*:\s*"https://avistaz\.[a-z]{2,3}/rss/download/(?P<secret>[^&=/]+?)/(?P<secret2>[^&=/]+?)\.torrent"`),
	rule(`(?i),"info_hash":"(?P<secret>[^&="]+?)",`),
	rule(`(?i)"(?:api_token|passkey|rss_key)"\s*:\s*"(?P<secret>[^&="]+?)"`),
	rule(`(?i)"announce"\s*:\s*"https?://[a-z0-9-_.]+?/(?P<secret>[^&="]+?)/announce"`),

	// Discord
	rule(`(?i)discord\.com/api/webhooks/(?:(?P<secret>[\w-]+)/)?(?P<secret2>[\w-]+)`),

	// Telegram
	rule(`(?i)api\.telegram\.org/bot[\d]+:(?P<secret>[\w-]+)/`),
}

// remoteIPRegex matches addresses logged by auth events and "from" clauses.
var remoteIPRegex = regexp.MustCompile(`(?:Auth-(\w+) ip|from) (\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})`)

// unmaskedAuthEvents keep their address: a failed or unauthorized login is
// exactly what an operator needs to trace.
var unmaskedAuthEvents = []string{"Failure", "Unauthorized"}

func skipUseToken(group string) func(re *regexp.Regexp, s string, m []int) bool {
	return func(re *regexp.Regexp, s string, m []int) bool {
		key := strings.ToLower(groupValue(re, s, m, group))
		return strings.HasSuffix(key, "usetoken") || strings.HasSuffix(key, "get_token")
	}
}

func groupValue(re *regexp.Regexp, s string, m []int, name string) string {
	idx := re.SubexpIndex(name)
	if idx <= 0 || 2*idx+1 >= len(m) || m[2*idx] < 0 {
		return ""
	}
	return s[m[2*idx]:m[2*idx+1]]
}

// Cleanse removes credentials, tokens and session keys from message and
// partially masks non-local client addresses.
func Cleanse(message string) string {
	if strings.TrimSpace(message) == "" {
		return message
	}
	for _, r := range cleansingRules {
		message = r.apply(message)
	}
	return remoteIPRegex.ReplaceAllStringFunc(message, cleanseRemoteIP)
}

func (r cleansingRule) apply(message string) string {
	out := r.applyOnce(message)
	for r.repeat && out != message {
		message = out
		out = r.applyOnce(message)
	}
	return out
}

func (r cleansingRule) applyOnce(message string) string {
	var secrets []int
	for i, name := range r.pattern.SubexpNames() {
		if strings.HasPrefix(name, "secret") {
			secrets = append(secrets, i)
		}
	}

	var b strings.Builder
	copied, start := 0, 0
	for start <= len(message) {
		loc := r.pattern.FindStringSubmatchIndex(message[start:])
		if loc == nil {
			break
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += start
			}
		}

		next := loc[1]
		if r.skip == nil || !r.skip(r.pattern, message, loc) {
			spans := make([][2]int, 0, len(secrets))
			for _, g := range secrets {
				if loc[2*g] >= 0 && loc[2*g+1] > loc[2*g] {
					spans = append(spans, [2]int{loc[2*g], loc[2*g+1]})
				}
			}
			sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
			for _, span := range spans {
				if span[0] < copied {
					continue
				}
				b.WriteString(message[copied:span[0]])
				b.WriteString(removed)
				copied = span[1]
			}
			if len(spans) > 0 {
				next = spans[len(spans)-1][1]
			}
		}
		if next <= loc[0] {
			next = loc[0] + 1
		}
		start = next
	}
	if copied == 0 {
		return message
	}
	b.WriteString(message[copied:])
	return b.String()
}

func cleanseRemoteIP(match string) string {
	m := remoteIPRegex.FindStringSubmatch(match)
	if m == nil {
		return match
	}
	for _, event := range unmaskedAuthEvents {
		if m[1] != "" && strings.HasSuffix(m[1], event) {
			return match
		}
	}
	ip := net.ParseIP(strings.Join(m[2:6], "."))
	if ip == nil || isLocalAddress(ip) {
		return match
	}
	prefix := match[:strings.LastIndex(match, " ")+1]
	return prefix + m[2] + ".*.*." + m[5]
}

func isLocalAddress(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
