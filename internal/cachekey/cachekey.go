// Package cachekey derives content-addressed keys for synthesized line audio.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// version is mixed into every digest so a change to the field encoding
// produces a disjoint key space.
const version = "linecue/v1"

// PrefixLen is the number of hex characters used when a key is embedded in a
// storage locator.
const PrefixLen = 12

// ComputeKey returns the hex SHA-256 of the normalized tuple identifying one
// line's audio. Each field is length-prefixed so no concatenation of field
// values can be mistaken for another.
func ComputeKey(ownerID, scriptID string, lineIndex int, text, voiceID string, speed float64) string {
	h := sha256.New()
	for _, field := range []string{
		version,
		ownerID,
		scriptID,
		strconv.Itoa(lineIndex),
		NormalizeVoice(voiceID),
		NormalizeSpeed(speed),
		NormalizeText(text),
	} {
		h.Write([]byte(strconv.Itoa(len(field))))
		h.Write([]byte{':'})
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeSpeed renders a speaking rate with three fixed decimals, so 1,
// 1.0 and 1.0000001 all produce "1.000".
func NormalizeSpeed(speed float64) string {
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		speed = 0
	}
	rounded := math.Round(speed*1000) / 1000
	if rounded == 0 {
		rounded = 0 // folds -0
	}
	return strconv.FormatFloat(rounded, 'f', 3, 64)
}

// NormalizeText trims surrounding whitespace and applies Unicode NFC so the
// same visible text typed in different editors hashes identically.
func NormalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// NormalizeVoice trims a voice identifier.
func NormalizeVoice(voiceID string) string {
	return strings.TrimSpace(voiceID)
}

// Prefix returns the leading PrefixLen characters of key.
func Prefix(key string) string {
	if len(key) <= PrefixLen {
		return key
	}
	return key[:PrefixLen]
}
