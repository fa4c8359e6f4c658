// Package robots implements the crawl-policy engine: a deliberately coarse
// robots.txt reader that recognises whole-site blocking and Crawl-delay hints,
// with an opt-in strict mode that also evaluates per-path rules.
package robots

import (
	"bufio"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/campus-crawler/pkg/models"
)

// DefaultCrawlDelaySeconds is returned by CrawlDelay when the site declares none
const DefaultCrawlDelaySeconds = 3.0

// Wildcard is the client identity matching every crawler
const Wildcard = "*"

// Policy holds the rule sets parsed from one site's policy text. Immutable after Parse.
type Policy struct {
	rules  map[string]models.RobotsRuleSet // lowercased client id -> rules
	tokens []string                         // non-wildcard client ids, longest first
	strict *robotstxt.RobotsData            // per-path rules, nil unless strict mode
}

// Permissive returns a policy that allows everything and declares no crawl delay
func Permissive() *Policy {
	return &Policy{rules: map[string]models.RobotsRuleSet{}}
}

// Parse reads policy text line by line.
// Consecutive User-agent lines share one rule set; a User-agent line that follows
// a rule starts a new one. "Disallow: /" blocks the whole site for the current set,
// "Allow:" re-allows it, other Disallow paths are accepted but not matched.
func Parse(policyText string) *Policy {
	p := Permissive()

	var current []string // client ids of the group being read
	inRules := false     // true once the current group has seen a non-User-agent line

	update := func(fn func(rs *models.RobotsRuleSet)) {
		for _, agent := range current {
			rs, ok := p.rules[agent]
			if !ok {
				rs = models.RobotsRuleSet{Allowed: true}
			}
			fn(&rs)
			p.rules[agent] = rs
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(policyText))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if inRules {
				current = nil
				inRules = false
			}
			agent := strings.ToLower(value)
			if agent == "" {
				continue
			}
			current = append(current, agent)
			if _, ok := p.rules[agent]; !ok {
				p.rules[agent] = models.RobotsRuleSet{Allowed: true}
			}
		case "disallow":
			inRules = true
			if value == "/" {
				update(func(rs *models.RobotsRuleSet) { rs.Allowed = false })
			}
		case "allow":
			inRules = true
			update(func(rs *models.RobotsRuleSet) { rs.Allowed = true })
		case "crawl-delay":
			inRules = true
			secs, err := strconv.ParseFloat(value, 64)
			if err != nil || secs < 0 {
				continue
			}
			update(func(rs *models.RobotsRuleSet) { rs.CrawlDelaySeconds = &secs })
		default:
			// Sitemap, Host and unknown directives end the User-agent run but carry no rule
			inRules = true
		}
	}

	for agent := range p.rules {
		if agent != Wildcard {
			p.tokens = append(p.tokens, agent)
		}
	}
	sort.Slice(p.tokens, func(i, j int) bool {
		if len(p.tokens[i]) != len(p.tokens[j]) {
			return len(p.tokens[i]) > len(p.tokens[j])
		}
		return p.tokens[i] < p.tokens[j]
	})

	return p
}

// ParseStrict parses like Parse and additionally keeps the per-path rules for IsAllowed
// Falls back to the coarse policy if the text cannot be parsed by the path matcher
func ParseStrict(policyText string) *Policy {
	p := Parse(policyText)
	if data, err := robotstxt.FromString(policyText); err == nil {
		p.strict = data
	}
	return p
}

// RuleSet returns the rule set governing clientID and whether one was declared.
// Lookup order: exact id, then the longest declared token contained in the id, then "*".
func (p *Policy) RuleSet(clientID string) (models.RobotsRuleSet, bool) {
	id := strings.ToLower(strings.TrimSpace(clientID))
	if id == "" {
		id = Wildcard
	}
	if rs, ok := p.rules[id]; ok {
		return rs, true
	}
	for _, token := range p.tokens {
		if strings.Contains(id, token) {
			return p.rules[token], true
		}
	}
	if rs, ok := p.rules[Wildcard]; ok {
		return rs, true
	}
	return models.RobotsRuleSet{Allowed: true}, false
}

// IsAllowed reports whether rawURL may be fetched by clientID.
// Only a whole-site block denies in the default mode; strict mode also applies path rules.
func (p *Policy) IsAllowed(rawURL, clientID string) bool {
	rs, _ := p.RuleSet(clientID)
	if !rs.Allowed {
		return false
	}
	if p.strict == nil {
		return true
	}

	path := "/"
	if u, err := url.Parse(rawURL); err == nil {
		path = u.EscapedPath()
		if path == "" {
			path = "/"
		}
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
	}
	return p.strict.TestAgent(path, clientID)
}

// CrawlDelay returns the delay in seconds the site requests from clientID, 3 if none is declared
func (p *Policy) CrawlDelay(clientID string) float64 {
	if secs, ok := p.DeclaredCrawlDelay(clientID); ok {
		return secs
	}
	return DefaultCrawlDelaySeconds
}

// DeclaredCrawlDelay returns the site's explicit Crawl-delay for clientID, if any
func (p *Policy) DeclaredCrawlDelay(clientID string) (float64, bool) {
	rs, _ := p.RuleSet(clientID)
	if rs.CrawlDelaySeconds == nil {
		return 0, false
	}
	return *rs.CrawlDelaySeconds, true
}

// IsStrict reports whether per-path rules are enforced
func (p *Policy) IsStrict() bool {
	return p.strict != nil
}
