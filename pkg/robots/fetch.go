package robots

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/campus-crawler/pkg/fetch"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// robotsTxtPath is the well-known path for robots.txt files.
const robotsTxtPath = "/robots.txt"

// maxRobotsBodyBytes limits how much of a policy document is parsed.
const maxRobotsBodyBytes = 512 * 1024

// Loader retrieves and parses a site's policy document
type Loader struct {
	fetcher     fetch.HTTPFetcher
	strictPaths bool
	log         *logrus.Entry
}

// NewLoader creates a Loader; strictPaths enables per-path rule evaluation
func NewLoader(fetcher fetch.HTTPFetcher, strictPaths bool, log *logrus.Entry) *Loader {
	return &Loader{fetcher: fetcher, strictPaths: strictPaths, log: log}
}

// PolicyURL returns the robots.txt location for the site hosting baseURL
func PolicyURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", utils.ErrInvalidURL, baseURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %s has no host", utils.ErrInvalidURL, baseURL)
	}
	scheme := u.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: robotsTxtPath}).String(), nil
}

// FetchPolicy downloads and parses the policy for the site hosting baseURL.
// It fails open: any network error, non-2xx status or missing document yields Permissive().
func (l *Loader) FetchPolicy(ctx context.Context, baseURL string) *Policy {
	robotsURL, err := PolicyURL(baseURL)
	if err != nil {
		l.log.WithError(err).Warn("Cannot derive robots.txt URL, allowing all")
		return Permissive()
	}
	robotsLog := l.log.WithField("robots_url", robotsURL)

	resp, err := l.fetcher.Get(ctx, robotsURL)
	if err != nil {
		robotsLog.WithFields(logrus.Fields{
			"error_type": utils.CategorizeError(err),
			"error":      err,
		}).Info("robots.txt unavailable, allowing all")
		return Permissive()
	}

	body := resp.Body
	if len(body) > maxRobotsBodyBytes {
		body = body[:maxRobotsBodyBytes]
	}

	var policy *Policy
	if l.strictPaths {
		policy = ParseStrict(string(body))
	} else {
		policy = Parse(string(body))
	}
	robotsLog.WithFields(logrus.Fields{
		"rule_sets": len(policy.rules),
		"strict":    policy.IsStrict(),
	}).Info("Parsed robots.txt")
	return policy
}
