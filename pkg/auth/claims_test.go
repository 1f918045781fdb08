package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

func TestExtractClaimsFromContext(t *testing.T) {
	orgID := uuid.New()
	userID := uuid.New()

	claims := &Claims{OrganisationID: orgID.String()}
	claims.Subject = userID.String()
	ctx := context.WithValue(context.Background(), ClaimsKey, claims)

	gotOrg, gotUser, err := ExtractClaimsFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, orgID, gotOrg)
	assert.Equal(t, userID, gotUser)
}

func TestExtractClaimsFromContext_Errors(t *testing.T) {
	tests := []struct {
		name   string
		claims *Claims
		want   string
	}{
		{"no claims", nil, "no claims in context"},
		{"missing oid", &Claims{}, "missing organisation ID"},
		{"bad oid", &Claims{OrganisationID: "org-1"}, "invalid organisation ID"},
		{"missing sub", &Claims{OrganisationID: uuid.NewString()}, "missing user ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.claims != nil {
				ctx = context.WithValue(ctx, ClaimsKey, tt.claims)
			}
			_, _, err := ExtractClaimsFromContext(ctx)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetClaims_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), ClaimsKey, "not-claims")
	_, ok := GetClaims(ctx)
	assert.False(t, ok)
}

func TestPrincipalRoundTrip(t *testing.T) {
	_, ok := GetPrincipal(context.Background())
	assert.False(t, ok)

	p := &models.AccessPrincipal{UserID: uuid.New(), OrganisationID: 4}
	got, ok := GetPrincipal(WithPrincipal(context.Background(), p))
	require.True(t, ok)
	assert.Equal(t, int64(4), got.OrganisationID)
}
