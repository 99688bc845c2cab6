package itchio

// User is the account that published a game.
type User struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`
	URL         string  `json:"url"`
	CoverURL    *string `json:"cover_url,omitempty"`
}

// Name returns the display name when set, the username otherwise.
func (u User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Username
}

// Game is a purchasable item on the marketplace.
type Game struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	ShortText      *string  `json:"short_text,omitempty"`
	URL            string   `json:"url"`
	Type           string   `json:"type"`
	Classification string   `json:"classification"`
	CreatedAt      string   `json:"created_at"`
	PublishedAt    *string  `json:"published_at,omitempty"`
	CoverURL       *string  `json:"cover_url,omitempty"`
	StillCoverURL  *string  `json:"still_cover_url,omitempty"`
	MinPrice       *int64   `json:"min_price,omitempty"`
	Traits         []string `json:"traits"`
	User           User     `json:"user"`
}

// OwnedKey is the user's ownership record for one game. Its ID is the
// download key, distinct from the game's ID.
type OwnedKey struct {
	ID         int64  `json:"id"`
	GameID     int64  `json:"game_id"`
	PurchaseID *int64 `json:"purchase_id,omitempty"`
	Downloads  int64  `json:"downloads"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	Game       Game   `json:"game"`
}

// Upload is one downloadable file offered for a game.
type Upload struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
	GameID   int64  `json:"game_id"`
}

// OwnedKeysPage is one page of the owned-keys listing.
type OwnedKeysPage struct {
	OwnedKeys []OwnedKey `json:"owned_keys"`
	Page      int64      `json:"page"`
	PerPage   int64      `json:"per_page"`
}

type uploadsResponse struct {
	Uploads []Upload `json:"uploads"`
}
