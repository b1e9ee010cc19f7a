package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ivlev/postersync/internal/poster"
)

const gitHubAPIBase = "https://api.github.com"

// GitHub reads the last commit date of a file from the GitHub API and the
// file itself from the repository's GitHub Pages site.
type GitHub struct {
	Client *http.Client
	// Token is sent as a bearer token when set.
	Token string
	// APIBase and PagesURL are overridden in tests.
	APIBase  string
	PagesURL func(repository, path string) (string, error)
}

func NewGitHub(client *http.Client, token string) *GitHub {
	return &GitHub{Client: client, Token: token, APIBase: gitHubAPIBase, PagesURL: PagesURL}
}

type gitHubCommit struct {
	Commit struct {
		Committer struct {
			Date string `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

func (g *GitHub) FetchTimestamp(ctx context.Context, d poster.Descriptor) (time.Time, error) {
	q := url.Values{}
	q.Set("sha", d.Branch)
	q.Set("path", d.Path)
	q.Set("per_page", "1")
	endpoint := fmt.Sprintf("%s/repos/%s/commits?%s", strings.TrimSuffix(g.APIBase, "/"), d.Repository, q.Encode())

	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	if g.Token != "" {
		header.Set("Authorization", "Bearer "+g.Token)
	}
	body, err := httpGet(ctx, g.Client, endpoint, header)
	if err != nil {
		return time.Time{}, err
	}

	var commits []gitHubCommit
	if err := json.Unmarshal(body, &commits); err != nil {
		return time.Time{}, fmt.Errorf("decode commits: %w", err)
	}
	if len(commits) == 0 {
		return time.Time{}, errors.New("no commits touch " + d.Path)
	}
	t, err := time.Parse(time.RFC3339, commits[0].Commit.Committer.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse commit date: %w", err)
	}
	return t, nil
}

func (g *GitHub) FetchContent(ctx context.Context, d poster.Descriptor) ([]byte, error) {
	pages := g.PagesURL
	if pages == nil {
		pages = PagesURL
	}
	u, err := pages(d.Repository, d.Path)
	if err != nil {
		return nil, err
	}
	return httpGet(ctx, g.Client, u, nil)
}

// PagesURL maps a repository file to its GitHub Pages URL. The user site
// repository "<owner>/<owner>.github.io" is served from the host root.
func PagesURL(repository, path string) (string, error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("repository %q is not owner/name", repository)
	}
	host := strings.ToLower(owner) + ".github.io"
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.EqualFold(name, host) {
		return "https://" + host + path, nil
	}
	return "https://" + host + "/" + name + path, nil
}
