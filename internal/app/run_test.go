package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_ExitCodes(t *testing.T) {
	code := Run("test", func(ctx context.Context) error { return nil })
	assert.Equal(t, 0, code)

	code = Run("test", func(ctx context.Context) error { return errors.New("boom") })
	assert.Equal(t, 1, code)
}
