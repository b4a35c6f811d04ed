package models

import "time"

type PairStatus string

const (
	PairStatusActive PairStatus = "active"
	PairStatusPaused PairStatus = "paused"
)

// ForwardingPair is a user rule describing where messages are mirrored from and to.
type ForwardingPair struct {
	ID                   int64      `json:"id"`
	UserID               int64      `json:"user_id"`
	SourceAccountID      *int64     `json:"source_account_id,omitempty"`
	DestinationAccountID *int64     `json:"destination_account_id,omitempty"`
	SourceChannel        string     `json:"source_channel"`
	DestinationChannel   string     `json:"destination_channel"`
	PairType             PairType   `json:"pair_type"`
	Status               PairStatus `json:"status"`
	DelaySeconds         int        `json:"delay_seconds"`
	Silent               bool       `json:"silent"`
	CopyMode             bool       `json:"copy_mode"`
	FilterKeywords       []string   `json:"filter_keywords,omitempty"`
	ExcludeKeywords      []string   `json:"exclude_keywords,omitempty"`
	CustomPrefix         string     `json:"custom_prefix,omitempty"`
	CustomSuffix         string     `json:"custom_suffix,omitempty"`
	RemoveHeader         bool       `json:"remove_header"`
	RemoveFooter         bool       `json:"remove_footer"`
	CustomHeader         string     `json:"custom_header,omitempty"`
	CustomFooter         string     `json:"custom_footer,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SourcePlatform returns the platform messages are read from.
func (p *ForwardingPair) SourcePlatform() Platform {
	src, _, _ := p.PairType.Platforms()
	return src
}

// DestinationPlatform returns the platform messages are delivered to.
func (p *ForwardingPair) DestinationPlatform() Platform {
	_, dst, _ := p.PairType.Platforms()
	return dst
}
