// Package header builds the global page header: environment badge, account
// menu and sign-out.
package header

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"navigator/internal/auth"
	"navigator/internal/profile"
)

var envPattern = regexp.MustCompile(`//([^.]+).kbase.us`)

var envIcons = map[string]string{
	"ci":                 "fa-flask",
	"next":               "fa-bullseye",
	"narrative-dev":      "fa-thumbs-up",
	"narrative-refactor": "fa-thumbs-up",
	"narrative":          "",
	"appdev":             "fa-wrench",
}

// Env describes the deployment badge.
type Env struct {
	Name      string
	Prefix    string
	IconClass string
	ShowBadge bool
}

// EnvFromHostRoot derives the badge from a host root like
// "https://next.kbase.us". Unknown environments get the ci icon and no text.
func EnvFromHostRoot(hostRoot string) Env {
	env := "ci"
	if m := envPattern.FindStringSubmatch(hostRoot); m != nil {
		env = m[1]
	}

	icon := []string{"fa", "fa-2x"}
	prefix := ""
	if class, ok := envIcons[env]; ok {
		icon = append(icon, class)
		prefix = strings.ToUpper(env)
	} else {
		icon = append(icon, envIcons["ci"])
	}
	return Env{
		Name:      env,
		Prefix:    prefix,
		IconClass: strings.Join(icon, " "),
		ShowBadge: prefix != "NARRATIVE",
	}
}

// GravatarURL returns the avatar image for p. Users who chose the silhouette
// or have no gravatar hash get the bundled placeholder.
func GravatarURL(urlPrefix string, p profile.Profile) string {
	if p.AvatarOption == "silhouette" || p.GravatarHash == "" {
		return urlPrefix + "/static/images/nouserpic.png"
	}
	def := p.GravatarDefault
	if def == "" {
		def = "identicon"
	}
	return "https://www.gravatar.com/avatar/" + p.GravatarHash + "?s=300&amp;r=pg&d=" + def
}

// View is everything the header template needs.
type View struct {
	Title       string
	Env         Env
	SignedOut   bool
	Username    string
	RealName    string
	GravatarURL string
}

type Authenticator interface {
	Username(ctx context.Context, token string) (string, error)
	Logout(ctx context.Context, token string) error
}

type ProfileSource interface {
	Get(ctx context.Context, username, token string) (profile.Profile, error)
}

// Builder assembles header views for requests.
type Builder struct {
	title     string
	hostRoot  string
	urlPrefix string
	env       Env
	auth      Authenticator
	profiles  ProfileSource
	logger    *zap.Logger
}

func NewBuilder(title, hostRoot, urlPrefix string, authn Authenticator, profiles ProfileSource, logger *zap.Logger) *Builder {
	return &Builder{
		title:     title,
		hostRoot:  hostRoot,
		urlPrefix: urlPrefix,
		env:       EnvFromHostRoot(hostRoot),
		auth:      authn,
		profiles:  profiles,
		logger:    logger,
	}
}

// Build resolves the user behind token. Lookup failures are logged and
// leave the account menu without a name; they never fail the page.
func (b *Builder) Build(ctx context.Context, token string) View {
	if token == "" {
		return b.BuildFor(ctx, token, "", auth.ErrNoToken)
	}
	username, err := b.auth.Username(ctx, token)
	return b.BuildFor(ctx, token, username, err)
}

// BuildFor builds the header for a username the caller already resolved.
// lookupErr is the error of that resolution, if any.
func (b *Builder) BuildFor(ctx context.Context, token, username string, lookupErr error) View {
	v := View{
		Title:       b.title,
		Env:         b.env,
		GravatarURL: GravatarURL(b.urlPrefix, profile.Profile{}),
	}
	if token == "" || errors.Is(lookupErr, auth.ErrNoToken) {
		v.SignedOut = true
		return v
	}
	if lookupErr != nil {
		b.logger.Warn("resolve username", zap.Error(lookupErr))
		return v
	}
	v.Username = username

	p, err := b.profiles.Get(ctx, username, token)
	if err != nil {
		b.logger.Warn("fetch user profile", zap.String("username", username), zap.Error(err))
		return v
	}
	v.Username = p.Username
	v.RealName = p.RealName
	v.GravatarURL = GravatarURL(b.urlPrefix, p)
	return v
}

// SignOut logs the token out. On success it returns the legacy signed-out
// page to redirect to; on failure the error is logged and ok is false.
func (b *Builder) SignOut(ctx context.Context, token string) (redirect string, ok bool) {
	if token == "" {
		b.logger.Warn("tried to sign out a user with no token")
		return "", false
	}
	if err := b.auth.Logout(ctx, token); err != nil {
		b.logger.Error("error signing out", zap.Error(err))
		return "", false
	}
	return b.hostRoot + "/#auth2/signedout", true
}
