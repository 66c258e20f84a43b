package github

import "time"

// Profile is the public profile of a GitHub user.
type Profile struct {
	Username        string     `json:"username"`
	Name            string     `json:"name,omitempty"`
	Bio             string     `json:"bio,omitempty"`
	Company         string     `json:"company,omitempty"`
	Location        string     `json:"location,omitempty"`
	Email           string     `json:"email,omitempty"`
	Blog            string     `json:"blog,omitempty"`
	TwitterUsername string     `json:"twitter_username,omitempty"`
	PublicRepos     int        `json:"public_repos"`
	PublicGists     int        `json:"public_gists"`
	Followers       int        `json:"followers"`
	Following       int        `json:"following"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	AvatarURL       string     `json:"avatar_url,omitempty"`
	HTMLURL         string     `json:"html_url,omitempty"`
}

// Repository is one entry of a user's repository listing, optionally
// enriched with its README.
type Repository struct {
	Name          string     `json:"name"`
	FullName      string     `json:"full_name"`
	Description   string     `json:"description,omitempty"`
	HTMLURL       string     `json:"html_url"`
	CloneURL      string     `json:"clone_url"`
	Language      string     `json:"language,omitempty"`
	Stars         int        `json:"stars"`
	Forks         int        `json:"forks"`
	Watchers      int        `json:"watchers"`
	OpenIssues    int        `json:"open_issues"`
	Size          int        `json:"size"`
	DefaultBranch string     `json:"default_branch"`
	Topics        []string   `json:"topics"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	PushedAt      *time.Time `json:"pushed_at,omitempty"`
	IsFork        bool       `json:"is_fork"`
	IsArchived    bool       `json:"is_archived"`
	ReadmeContent string     `json:"readme_content,omitempty"`
}

// apiUser mirrors GET /users/{username}.
type apiUser struct {
	Login           string     `json:"login"`
	Name            *string    `json:"name"`
	Bio             *string    `json:"bio"`
	Company         *string    `json:"company"`
	Location        *string    `json:"location"`
	Email           *string    `json:"email"`
	Blog            *string    `json:"blog"`
	TwitterUsername *string    `json:"twitter_username"`
	PublicRepos     int        `json:"public_repos"`
	PublicGists     int        `json:"public_gists"`
	Followers       int        `json:"followers"`
	Following       int        `json:"following"`
	CreatedAt       *time.Time `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at"`
	AvatarURL       string     `json:"avatar_url"`
	HTMLURL         string     `json:"html_url"`
}

func (u apiUser) toProfile() *Profile {
	return &Profile{
		Username:        u.Login,
		Name:            deref(u.Name),
		Bio:             deref(u.Bio),
		Company:         deref(u.Company),
		Location:        deref(u.Location),
		Email:           deref(u.Email),
		Blog:            deref(u.Blog),
		TwitterUsername: deref(u.TwitterUsername),
		PublicRepos:     u.PublicRepos,
		PublicGists:     u.PublicGists,
		Followers:       u.Followers,
		Following:       u.Following,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
		AvatarURL:       u.AvatarURL,
		HTMLURL:         u.HTMLURL,
	}
}

// apiRepo mirrors one element of GET /users/{username}/repos.
type apiRepo struct {
	Name            string     `json:"name"`
	FullName        string     `json:"full_name"`
	Description     *string    `json:"description"`
	HTMLURL         string     `json:"html_url"`
	CloneURL        string     `json:"clone_url"`
	Language        *string    `json:"language"`
	StargazersCount int        `json:"stargazers_count"`
	ForksCount      int        `json:"forks_count"`
	WatchersCount   int        `json:"watchers_count"`
	OpenIssuesCount int        `json:"open_issues_count"`
	Size            int        `json:"size"`
	DefaultBranch   string     `json:"default_branch"`
	Topics          []string   `json:"topics"`
	CreatedAt       *time.Time `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at"`
	PushedAt        *time.Time `json:"pushed_at"`
	Fork            bool       `json:"fork"`
	Archived        bool       `json:"archived"`
}

func (r apiRepo) toRepository() Repository {
	topics := r.Topics
	if topics == nil {
		topics = []string{}
	}
	return Repository{
		Name:          r.Name,
		FullName:      r.FullName,
		Description:   deref(r.Description),
		HTMLURL:       r.HTMLURL,
		CloneURL:      r.CloneURL,
		Language:      deref(r.Language),
		Stars:         r.StargazersCount,
		Forks:         r.ForksCount,
		Watchers:      r.WatchersCount,
		OpenIssues:    r.OpenIssuesCount,
		Size:          r.Size,
		DefaultBranch: r.DefaultBranch,
		Topics:        topics,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		PushedAt:      r.PushedAt,
		IsFork:        r.Fork,
		IsArchived:    r.Archived,
	}
}

// apiReadme mirrors GET /repos/{owner}/{repo}/readme.
type apiReadme struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
