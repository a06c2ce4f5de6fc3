package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakSecretScoreThreshold = 3

// IsWeakSecretKey returns whether the token-signing secret is considered weak.
// Empty secret is handled by the auth-enabled validation, so this treats it as not weak.
func IsWeakSecretKey(secret string) bool {
	if secret == "" {
		return false
	}
	result := zxcvbn.PasswordStrength(secret, nil)
	return result.Score < weakSecretScoreThreshold
}
