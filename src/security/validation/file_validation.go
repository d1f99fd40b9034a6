package validation

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/username/ledgerlens/src/logger"
)

// AllowedClientContentTypes is a map for quick lookup of allowed
// client-declared MIME types for statement extraction uploads. Extraction
// responses are text; anything binary has no business here.
var AllowedClientContentTypes = map[string]bool{
	"text/plain":       true,
	"application/json": true,
	"text/json":        true,
	"text/markdown":    true,
}

// ValidateClientContentType checks the Content-Type header provided by the client.
func ValidateClientContentType(contentType string) error {
	normalized := strings.ToLower(strings.Split(contentType, ";")[0])
	if allowed, exists := AllowedClientContentTypes[normalized]; !exists || !allowed {
		logger.L.Warn("Disallowed client-declared Content-Type", "contentType", contentType)
		return fmt.Errorf("client-declared file type '%s' is not allowed for statement upload", contentType)
	}
	return nil
}

// isBinaryContent checks if a buffer contains binary control characters (like
// null bytes) which indicate the payload is not model-produced text.
func isBinaryContent(buf []byte) bool {
	// 1. Check for null bytes. Text payloads should not have these.
	if bytes.IndexByte(buf, 0) != -1 {
		return true
	}

	// 2. Validate UTF-8. If it's invalid UTF-8, it might be binary garbage.
	if !utf8.Valid(buf) {
		return true
	}

	return false
}

// ValidateTextContent checks the actual payload signature and inspects the
// content to ensure it is text-based before it reaches the validator.
func ValidateTextContent(file io.ReadSeeker) (string, error) {
	if file == nil {
		return "", fmt.Errorf("file is nil")
	}

	// Read first 1024 bytes (1KB) for detection
	buffer := make([]byte, 1024)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read file for content type checking: %w", err)
	}

	// Reset the read pointer so the pipeline can read the full payload.
	if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
		return "", fmt.Errorf("failed to reset file read pointer: %w", seekErr)
	}

	if n == 0 {
		return "", fmt.Errorf("file is empty")
	}

	if isBinaryContent(buffer[:n]) {
		logger.L.Warn("Upload rejected: binary content detected in text payload")
		return "application/octet-stream", fmt.Errorf("payload appears to be binary, not extraction text")
	}

	detectedContentType := http.DetectContentType(buffer[:n])
	detectedContentType = strings.ToLower(strings.Split(detectedContentType, ";")[0])

	allowedDetectedTypes := map[string]bool{
		"text/plain":       true,
		"application/json": true,
		"text/json":        true,
	}

	if !allowedDetectedTypes[detectedContentType] {
		logger.L.Warn("Disallowed detected payload content type", "detectedContentType", detectedContentType)
		return detectedContentType, fmt.Errorf("detected payload content type '%s' is not allowed", detectedContentType)
	}

	logger.L.Debug("Payload content type validated", "detectedContentType", detectedContentType)
	return detectedContentType, nil
}
