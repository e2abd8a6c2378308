package neynar

// User is a Farcaster profile as the rest of the service sees it.
type User struct {
	FID            int64    `json:"fid"`
	Username       string   `json:"username"`
	DisplayName    string   `json:"displayName"`
	PfpURL         string   `json:"pfpUrl"`
	Bio            string   `json:"bio"`
	FollowerCount  int      `json:"followerCount"`
	FollowingCount int      `json:"followingCount"`
	Verifications  []string `json:"verifications"`
	ActiveStatus   string   `json:"activeStatus"`
}

// Cast 用户发布的内容
type Cast struct {
	Hash          string        `json:"hash"`
	ParentHash    string        `json:"parentHash,omitempty"`
	ParentURL     string        `json:"parentUrl,omitempty"`
	RootParentURL string        `json:"rootParentUrl,omitempty"`
	ThreadHash    string        `json:"threadHash"`
	Author        User          `json:"author"`
	Text          string        `json:"text"`
	Timestamp     string        `json:"timestamp"`
	Embeds        []interface{} `json:"embeds"`
	LikesCount    int           `json:"likesCount"`
	RecastsCount  int           `json:"recastsCount"`
	RepliesCount  int           `json:"repliesCount"`
	Channel       *Channel      `json:"channel,omitempty"`
}

type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type Follow struct {
	User       User   `json:"user"`
	FollowedAt string `json:"followedAt"`
}

// Page is one cursor-paginated result.
type Page[T any] struct {
	Result []T    `json:"result"`
	Next   string `json:"next,omitempty"`
}

type rawUser struct {
	FID            int64  `json:"fid"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	PfpURL         string `json:"pfp_url"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
	ActiveStatus   string `json:"active_status"`
	Profile        struct {
		Bio struct {
			Text string `json:"text"`
		} `json:"bio"`
	} `json:"profile"`
	VerifiedAddresses struct {
		EthAddresses []string `json:"eth_addresses"`
	} `json:"verified_addresses"`
}

type rawCast struct {
	Hash          string        `json:"hash"`
	ParentHash    string        `json:"parent_hash"`
	ParentURL     string        `json:"parent_url"`
	RootParentURL string        `json:"root_parent_url"`
	ThreadHash    string        `json:"thread_hash"`
	Author        rawUser       `json:"author"`
	Text          string        `json:"text"`
	Timestamp     string        `json:"timestamp"`
	Embeds        []interface{} `json:"embeds"`
	Reactions     struct {
		LikesCount   int `json:"likes_count"`
		RecastsCount int `json:"recasts_count"`
	} `json:"reactions"`
	Replies struct {
		Count int `json:"count"`
	} `json:"replies"`
	Channel *struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		ImageURL string `json:"image_url"`
	} `json:"channel"`
}

// usernameResponse covers the shapes the username endpoints have returned.
type usernameResponse struct {
	User   *rawUser `json:"user"`
	Result *struct {
		User  *rawUser  `json:"user"`
		Users []rawUser `json:"users"`
	} `json:"result"`
	Users []rawUser `json:"users"`
}

func (r usernameResponse) pick() *rawUser {
	switch {
	case r.User != nil:
		return r.User
	case r.Result != nil && r.Result.User != nil:
		return r.Result.User
	case r.Result != nil && len(r.Result.Users) > 0:
		return &r.Result.Users[0]
	case len(r.Users) > 0:
		return &r.Users[0]
	}
	return nil
}

func transformUser(raw rawUser) User {
	display := raw.DisplayName
	if display == "" {
		display = raw.Username
	}
	status := raw.ActiveStatus
	if status == "" {
		status = "inactive"
	}
	verifications := raw.VerifiedAddresses.EthAddresses
	if verifications == nil {
		verifications = []string{}
	}
	return User{
		FID:            raw.FID,
		Username:       raw.Username,
		DisplayName:    display,
		PfpURL:         raw.PfpURL,
		Bio:            raw.Profile.Bio.Text,
		FollowerCount:  raw.FollowerCount,
		FollowingCount: raw.FollowingCount,
		Verifications:  verifications,
		ActiveStatus:   status,
	}
}

func transformCast(raw rawCast) Cast {
	thread := raw.ThreadHash
	if thread == "" {
		thread = raw.Hash
	}
	embeds := raw.Embeds
	if embeds == nil {
		embeds = []interface{}{}
	}
	c := Cast{
		Hash:          raw.Hash,
		ParentHash:    raw.ParentHash,
		ParentURL:     raw.ParentURL,
		RootParentURL: raw.RootParentURL,
		ThreadHash:    thread,
		Author:        transformUser(raw.Author),
		Text:          raw.Text,
		Timestamp:     raw.Timestamp,
		Embeds:        embeds,
		LikesCount:    raw.Reactions.LikesCount,
		RecastsCount:  raw.Reactions.RecastsCount,
		RepliesCount:  raw.Replies.Count,
	}
	if raw.Channel != nil {
		c.Channel = &Channel{ID: raw.Channel.ID, Name: raw.Channel.Name, ImageURL: raw.Channel.ImageURL}
	}
	return c
}
