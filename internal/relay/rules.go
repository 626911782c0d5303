package relay

import (
	"errors"
	"regexp"
	"strings"

	"github.com/nhle/mail-triage/internal/api"
)

// Labels and deciders produced by the priority rules.
const (
	LabelServices = "Servicios"
	LabelCopied   = "EnCopia"

	DecidedByWhitelist  = "rule_whitelist"
	DecidedByRecipients = "rule_multiple_recipients"
)

// Rules are the classification rules applied before any AI model. The
// whitelist wins over the recipients rule.
type Rules struct {
	// WhitelistDomains are substrings of the sender address; "*" matches
	// any run of characters and a leading "@" is ignored.
	WhitelistDomains []string
	// InternalDomain marks a message as copied when more than one of its
	// recipients belongs to it. Empty disables the rule.
	InternalDomain string
}

// Classify applies the rules to m. ok is false when no rule matched.
func (r Rules) Classify(m Mail) (c api.Classification, ok bool) {
	if r.Whitelisted(m.FromEmail) {
		return api.Classification{FinalLabel: LabelServices, DecidedBy: DecidedByWhitelist}, true
	}
	if r.Copied(m.Recipients()) {
		return api.Classification{FinalLabel: LabelCopied, DecidedBy: DecidedByRecipients}, true
	}
	return api.Classification{}, false
}

// Whitelisted reports whether from matches a whitelist pattern.
func (r Rules) Whitelisted(from string) bool {
	from = strings.ToLower(from)
	if from == "" {
		return false
	}

	for _, pattern := range r.WhitelistDomains {
		pattern = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(pattern)), "@")
		if pattern == "" {
			continue
		}
		if !strings.Contains(pattern, "*") {
			if strings.Contains(from, pattern) {
				return true
			}
			continue
		}
		if globPattern(pattern).MatchString(from) {
			return true
		}
	}
	return false
}

// Copied reports whether more than one recipient is on the internal
// domain.
func (r Rules) Copied(recipients []string) bool {
	domain := strings.ToLower(strings.TrimSpace(r.InternalDomain))
	if domain == "" {
		return false
	}
	if !strings.HasPrefix(domain, "@") {
		domain = "@" + domain
	}

	n := 0
	for _, addr := range recipients {
		if strings.Contains(strings.ToLower(addr), domain) {
			n++
		}
	}
	return n > 1
}

func globPattern(pattern string) *regexp.Regexp {
	expr := strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*")
	return regexp.MustCompile(expr)
}

// ErrNoRule is the detail returned when no rule decided a message.
var ErrNoRule = errors.New("no classification rule matched and the relay has no AI backend")
