package types

import "time"

// Credential is a user's OAuth grant for one publishing platform. Tokens are
// stored as received.
type Credential struct {
	UserID       string    `gorm:"primaryKey;size:64" json:"userId"`
	Platform     string    `gorm:"primaryKey;size:32" json:"platform"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expiry"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NeedsRefresh is true when the access token is missing or expires within
// the next minute.
func (c *Credential) NeedsRefresh(now time.Time) bool {
	if c.AccessToken == "" {
		return true
	}
	return !c.Expiry.IsZero() && now.Add(time.Minute).After(c.Expiry)
}
