package gateway

import (
	"time"

	"github.com/verdantpay/checkout-engine/internal/model"
)

// SandboxBanks is the bank list served by the stock sandbox gateways.
var SandboxBanks = []model.Bank{
	{ID: "0", Name: "Bank_0"},
	{ID: "1", Name: "Bank_1"},
	{ID: "2", Name: "Bank filtered"},
}

// NewSandbox creates the default development gateway: every tokenization is
// approved, redirect payments settle after two pending polls, no latency.
func NewSandbox() *Gateway {
	return New(Config{
		Name:          "sandbox",
		AccountID:     "acct_sandbox",
		SigningSecret: "sandbox-secret",
		Banks:         SandboxBanks,
		PendingPolls:  2,
		Outcomes: OutcomeDistribution{
			ApprovalRate: 1.00,
		},
	})
}

// NewFlaky creates a gateway with realistic failure rates and latency, for
// exercising retry and failure paths by hand.
func NewFlaky() *Gateway {
	return New(Config{
		Name:          "flaky",
		AccountID:     "acct_flaky",
		SigningSecret: "flaky-secret",
		Banks:         SandboxBanks,
		PendingPolls:  4,
		Outcomes: OutcomeDistribution{
			ApprovalRate: 0.70,
			DeclineRate:  0.20,
			ErrorRate:    0.10,
		},
		MinLatency: 50 * time.Millisecond,
		MaxLatency: 300 * time.Millisecond,
	})
}

// NewChallenging creates a gateway that demands one 3DS handoff on every
// redirect payment before settling.
func NewChallenging() *Gateway {
	return New(Config{
		Name:             "challenging",
		AccountID:        "acct_3ds",
		SigningSecret:    "challenge-secret",
		Banks:            SandboxBanks,
		PendingPolls:     1,
		RequireChallenge: true,
		Outcomes: OutcomeDistribution{
			ApprovalRate: 1.00,
		},
	})
}
