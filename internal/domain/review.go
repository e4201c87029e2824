package domain

import "time"

// ReviewRecord is one stored user review. ReviewID is the natural key.
type ReviewRecord struct {
	ReviewID           string     `json:"review_id"`
	AppName            string     `json:"app_name"`
	AuthorName         string     `json:"author_name"`
	AuthorImageURL     *string    `json:"author_image_url,omitempty"`
	Content            string     `json:"content"`
	Score              int        `json:"score"`
	ThumbsUpCount      int        `json:"thumbs_up_count"`
	AppVersionAtReview *string    `json:"app_version_at_review,omitempty"`
	SubmittedAt        time.Time  `json:"submitted_at"`
	ReplyContent       *string    `json:"reply_content,omitempty"`
	RepliedAt          *time.Time `json:"replied_at,omitempty"`
	AppVersion         *string    `json:"app_version,omitempty"`
	Country            string     `json:"country"`
	Language           string     `json:"language"`
}

// RawReview is an upstream entry after field mapping. SubmittedAt is nil
// when the entry carried no parseable submission time.
type RawReview struct {
	ReviewID           string
	AuthorName         string
	AuthorImageURL     *string
	Content            string
	Score              int
	ThumbsUpCount      int
	AppVersionAtReview *string
	SubmittedAt        *time.Time
	ReplyContent       *string
	RepliedAt          *time.Time
	AppVersion         *string
}

// ToRecord attaches the analyst-chosen grouping key and locale. It reports
// false when the entry cannot be stored because its timestamp is unknown.
func (r RawReview) ToRecord(appName, country, language string) (ReviewRecord, bool) {
	if r.SubmittedAt == nil || r.SubmittedAt.IsZero() || r.ReviewID == "" {
		return ReviewRecord{}, false
	}
	return ReviewRecord{
		ReviewID:           r.ReviewID,
		AppName:            appName,
		AuthorName:         r.AuthorName,
		AuthorImageURL:     r.AuthorImageURL,
		Content:            r.Content,
		Score:              r.Score,
		ThumbsUpCount:      r.ThumbsUpCount,
		AppVersionAtReview: r.AppVersionAtReview,
		SubmittedAt:        r.SubmittedAt.UTC(),
		ReplyContent:       r.ReplyContent,
		RepliedAt:          r.RepliedAt,
		AppVersion:         r.AppVersion,
		Country:            country,
		Language:           language,
	}, true
}

// AppCandidate is one catalog search hit.
type AppCandidate struct {
	Title   string `json:"title"`
	AppID   string `json:"app_id"`
	IconURL string `json:"icon_url,omitempty"`
}

// ReviewFilter narrows GetReviews. Zero Limit means no limit.
type ReviewFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}
