// Package otp generates one-time codes and hands them to a delivery channel.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"go.uber.org/zap"
)

// CodeLength is the number of digits in a generated code.
const CodeLength = 6

// Sender delivers a code to a phone number or email address
type Sender interface {
	Send(ctx context.Context, to, code string) error
}

// GenerateCode returns a uniformly random numeric code of CodeLength digits
func GenerateCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// LogSender writes codes to the log instead of sending an SMS or email.
// Intended for development environments.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, code string) error {
	s.logger.Info("OTP issued", zap.String("to", to), zap.String("code", code))
	return nil
}
