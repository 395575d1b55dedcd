package lifecycle

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
)

// OtpSender delivers a step-up challenge over an external channel (SMS,
// push). Delivery is outside this core; the machine only issues the code.
type OtpSender interface {
	SendOtpChallenge(ctx context.Context, agentID, movementID, code string) error
}

// LogSender is the development stand-in for a real delivery channel. The
// code itself is never logged.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) SendOtpChallenge(ctx context.Context, agentID, movementID, code string) error {
	s.Logger.Info("otp challenge issued",
		"agent_id", agentID,
		"movement_id", movementID,
	)
	return nil
}

func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashOtpCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

func otpMatches(hash [32]byte, code string) bool {
	candidate := hashOtpCode(code)
	return subtle.ConstantTimeCompare(hash[:], candidate[:]) == 1
}
