// Package testhelpers provides utilities for testing ekaya-connect components.
package testhelpers

import (
	"encoding/base64"
	"fmt"
)

// GenerateTestJWT creates a test JWT token for use when verification is disabled.
// The token has a valid structure but no signature (alg: none).
// sub is the member's user UUID and organisationID the organisation UUID carried in "oid".
func GenerateTestJWT(sub, organisationID, email string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := fmt.Sprintf(`{"sub":"%s"`, sub)
	if organisationID != "" {
		payload += fmt.Sprintf(`,"oid":"%s"`, organisationID)
	}
	if email != "" {
		payload += fmt.Sprintf(`,"email":"%s"`, email)
	}
	payload += "}"

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf("%s.%s.", header, encodedPayload)
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(sub, organisationID, email string) string {
	return "Bearer " + GenerateTestJWT(sub, organisationID, email)
}
