// Package domain contains core concepts of the messaging system.
// This file defines the identity a client asserts when registering.
// No runtime, network, or UI logic should be added here.
package domain

// Identity is the client-asserted profile attached to a live connection by
// the register command. It is accepted as-is (no authentication) and becomes
// immutable for the lifetime of the connection once attached.
type Identity struct {
	UserID     string `json:"userid" validate:"required"`
	Username   string `json:"username"`
	Department string `json:"dept"`
	Domain     string `json:"domain"`
	IP         string `json:"ip"`
	// Channel is the conversation the client currently has open. Targeted
	// fan-out uses it to match group members that are not listed in the
	// participant directory yet.
	Channel string `json:"channel,omitempty"`
}
