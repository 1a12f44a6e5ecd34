package facebook

// User is a Graph user node.
type User struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Email   string   `json:"email,omitempty"`
	Picture *Picture `json:"picture,omitempty"`
}

type Picture struct {
	Data struct {
		URL    string `json:"url"`
		Width  int    `json:"width,omitempty"`
		Height int    `json:"height,omitempty"`
	} `json:"data"`
}

// Page is a Graph page node.
type Page struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Category       string `json:"category,omitempty"`
	FollowersCount int64  `json:"followers_count,omitempty"`
	FanCount       int64  `json:"fan_count,omitempty"`
}

// Group is a Graph group node as returned by search.
type Group struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Privacy string `json:"privacy,omitempty"`
}

type Summary struct {
	TotalCount int64 `json:"total_count"`
}

type edgeSummary struct {
	Summary Summary `json:"summary"`
}

// Post is a page feed entry with engagement summaries.
type Post struct {
	ID          string       `json:"id"`
	Message     string       `json:"message,omitempty"`
	CreatedTime string       `json:"created_time,omitempty"`
	Likes       *edgeSummary `json:"likes,omitempty"`
	Comments    *edgeSummary `json:"comments,omitempty"`
	Shares      *struct {
		Count int64 `json:"count"`
	} `json:"shares,omitempty"`
}

// LikeCount returns the likes summary, 0 when absent.
func (p Post) LikeCount() int64 {
	if p.Likes == nil {
		return 0
	}
	return p.Likes.Summary.TotalCount
}

func (p Post) CommentCount() int64 {
	if p.Comments == nil {
		return 0
	}
	return p.Comments.Summary.TotalCount
}

func (p Post) ShareCount() int64 {
	if p.Shares == nil {
		return 0
	}
	return p.Shares.Count
}

// AdInsight is one row of an ad account insights report. Graph returns the
// numeric fields as strings.
type AdInsight struct {
	Impressions string `json:"impressions"`
	Clicks      string `json:"clicks"`
	Spend       string `json:"spend"`
	CTR         string `json:"ctr"`
	CPC         string `json:"cpc"`
	Reach       string `json:"reach"`
	Frequency   string `json:"frequency"`
	DateStart   string `json:"date_start"`
	DateStop    string `json:"date_stop"`
}

type Paging struct {
	Cursors struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next,omitempty"`
}

// List is the Graph collection envelope.
type List[T any] struct {
	Data   []T     `json:"data"`
	Paging *Paging `json:"paging,omitempty"`
}

// TokenInfo is the payload of /debug_token.
type TokenInfo struct {
	AppID       string   `json:"app_id"`
	Type        string   `json:"type"`
	Application string   `json:"application"`
	IsValid     bool     `json:"is_valid"`
	ExpiresAt   int64    `json:"expires_at"`
	IssuedAt    int64    `json:"issued_at,omitempty"`
	Scopes      []string `json:"scopes"`
	UserID      string   `json:"user_id,omitempty"`
}

// LongLivedToken is returned by the fb_exchange_token grant.
type LongLivedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type graphErrorBody struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}
