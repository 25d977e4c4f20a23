package utils

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// GenerateChannelID returns an id accepted by every provider's channel naming rules.
func GenerateChannelID() string {
	id, err := gonanoid.Generate(alphabet, 24)
	if err != nil {
		return ""
	}
	return id
}

// GenerateSecret generates a cryptographically secure alphanumeric string.
func GenerateSecret(length int) (string, error) {
	return gonanoid.Generate(alphabet, length)
}
