package models

import "strings"

// UserInfo describes a platform user as first seen by the adapter.
type UserInfo struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
}

// DisplayName derives a human-readable name: username, else first/last name,
// else a generic placeholder.
func (u UserInfo) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	parts := make([]string, 0, 2)
	if u.FirstName != "" {
		parts = append(parts, u.FirstName)
	}
	if u.LastName != "" {
		parts = append(parts, u.LastName)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if u.Email != "" {
		return u.Email
	}
	return "Unknown User"
}

// Sender is the wire-shaped sender block carried on message payloads.
type Sender struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Sender converts the user into its wire shape.
func (u UserInfo) Sender() Sender {
	return Sender{UserID: u.UserID, DisplayName: u.DisplayName()}
}
