package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployops/approval-gate/pkg/config"
)

func newTestLinks(ttl time.Duration) *LinkService {
	return NewLinkService(config.LinksConfig{Secret: "test-secret", TTL: ttl}, "https://gate.test")
}

func TestLinkSignAndVerify(t *testing.T) {
	links := newTestLinks(time.Hour)
	token, err := links.Sign("approval-payments-prod-42-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, links.Verify(token, "approval-payments-prod-42-1"))
}

func TestLinkRejectsWrongApproval(t *testing.T) {
	links := newTestLinks(time.Hour)
	token, err := links.Sign("approval-payments-prod-42-1")
	require.NoError(t, err)

	err = links.Verify(token, "approval-payments-prod-43-1")
	require.Error(t, err)
}

func TestLinkRejectsExpiredToken(t *testing.T) {
	links := newTestLinks(-time.Minute)
	token, err := links.Sign("approval-payments-prod-42-1")
	require.NoError(t, err)

	err = links.Verify(token, "approval-payments-prod-42-1")
	require.Error(t, err)
}

func TestLinkRejectsForeignSignature(t *testing.T) {
	links := newTestLinks(time.Hour)
	other := NewLinkService(config.LinksConfig{Secret: "other-secret", TTL: time.Hour}, "https://gate.test")

	token, err := other.Sign("approval-payments-prod-42-1")
	require.NoError(t, err)
	require.Error(t, links.Verify(token, "approval-payments-prod-42-1"))
}

func TestDecisionURLEmbedsToken(t *testing.T) {
	links := newTestLinks(time.Hour)
	url := links.DecisionURL("approval-payments-prod-42-1")
	assert.Contains(t, url, "https://gate.test/approve/approval-payments-prod-42-1?token=")
}
