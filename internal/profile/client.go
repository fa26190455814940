// Package profile reads user profiles from the KBase user profile service.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"navigator/internal/jsonrpc"
)

// Profile is the part of a user profile the header needs.
type Profile struct {
	Username        string
	RealName        string
	AvatarOption    string
	GravatarDefault string
	GravatarHash    string
}

type Client struct {
	rpc *jsonrpc.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{rpc: jsonrpc.New(url, "user_profile", timeout)}
}

type userProfile struct {
	User struct {
		Username string `json:"username"`
		RealName string `json:"realname"`
	} `json:"user"`
	Profile struct {
		Userdata *struct {
			AvatarOption    string `json:"avatarOption"`
			GravatarDefault string `json:"gravatarDefault"`
		} `json:"userdata"`
		Synced *struct {
			GravatarHash string `json:"gravatarHash"`
		} `json:"synced"`
	} `json:"profile"`
}

var ErrNotFound = errors.New("user profile not found")

// Get returns the profile of username.
func (c *Client) Get(ctx context.Context, username, token string) (Profile, error) {
	var result [][]*userProfile
	if err := c.rpc.Call(ctx, "UserProfile.get_user_profile", []any{[]string{username}}, token, &result); err != nil {
		return Profile{}, fmt.Errorf("get user profile %s: %w", username, err)
	}
	if len(result) == 0 || len(result[0]) == 0 || result[0][0] == nil {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, username)
	}

	up := result[0][0]
	p := Profile{Username: up.User.Username, RealName: up.User.RealName}
	if p.Username == "" {
		p.Username = username
	}
	if ud := up.Profile.Userdata; ud != nil {
		p.AvatarOption = ud.AvatarOption
		p.GravatarDefault = ud.GravatarDefault
	}
	if s := up.Profile.Synced; s != nil {
		p.GravatarHash = s.GravatarHash
	}
	return p, nil
}
