package mimic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ReleasesURL lists the published mimic releases, newest first.
const ReleasesURL = "https://api.github.com/repos/tfkr-ae/mimic/releases"

var ErrNoRelease = errors.New("no published release")

// Release is the subset of a GitHub release used by the update check.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"html_url"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
}

// LatestRelease fetches the newest non-draft, non-prerelease entry from releasesURL.
func LatestRelease(ctx context.Context, client *http.Client, releasesURL string) (Release, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releasesURL, nil)
	if err != nil {
		return Release{}, fmt.Errorf("creating request : %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	res, err := client.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("getting releases : %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("github api failed with status %s", res.Status)
	}

	var releases []Release
	if err := json.NewDecoder(res.Body).Decode(&releases); err != nil {
		return Release{}, fmt.Errorf("unmarshalling releases : %w", err)
	}
	for _, release := range releases {
		if !release.Draft && !release.Prerelease {
			return release, nil
		}
	}
	return Release{}, ErrNoRelease
}

// IsNewer reports whether the latest tag is a higher vMAJOR.MINOR.PATCH than current.
// Unparsable versions, such as development builds, are never considered outdated.
func IsNewer(current, latest string) bool {
	cur, ok := parseVersion(current)
	if !ok {
		return false
	}
	next, ok := parseVersion(latest)
	if !ok {
		return false
	}
	for i := range cur {
		if next[i] != cur[i] {
			return next[i] > cur[i]
		}
	}
	return false
}

func parseVersion(version string) ([3]int, bool) {
	var parsed [3]int
	version, _, _ = strings.Cut(strings.TrimPrefix(version, "v"), "-")
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return parsed, false
	}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return parsed, false
		}
		parsed[i] = n
	}
	return parsed, true
}
