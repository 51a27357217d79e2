package storage

import (
	"fmt"
	"path"
	"strings"
	"unicode"
)

const (
	proofPrefix      = "payment-proofs"
	maxFileNameRunes = 120
)

// ProofObjectPath returns the object key of a payment proof:
// payment-proofs/{orderID}/{uploadID}-{fileName}. The upload id keeps re-uploads distinct.
func ProofObjectPath(orderID, uploadID, fileName string) (string, error) {
	orderID, err := validateSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	uploadID, err = validateSegment("uploadID", uploadID)
	if err != nil {
		return "", err
	}
	name := safeFileName(fileName)
	if name == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	return fmt.Sprintf("%s/%s/%s-%s", proofPrefix, orderID, uploadID, name), nil
}

// IsProofPath reports whether objectPath lives under the payment proof prefix.
func IsProofPath(objectPath string) bool {
	return strings.HasPrefix(objectPath, proofPrefix+"/") && !strings.Contains(objectPath, "..")
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

// safeFileName keeps the base name of a client supplied file name, replacing anything outside
// letters (with combining marks), digits, dot, dash and underscore.
func safeFileName(raw string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	var b strings.Builder
	count := 0
	for _, r := range base {
		if count == maxFileNameRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsMark(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
		count++
	}
	return strings.Trim(strings.ReplaceAll(b.String(), "..", "."), ".-")
}
