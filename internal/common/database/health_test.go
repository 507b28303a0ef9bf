package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"policy-orchestrator/internal/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	name string
	err  error
}

func (f fakePinger) Name() string                   { return f.name }
func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestCheckAll(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer rc.Close()

	down := errors.New("down")
	failures := CheckAll(context.Background(), time.Second, rc, fakePinger{"es", down}, fakePinger{"pg", nil})

	assert.Len(t, failures, 1)
	assert.ErrorIs(t, failures["es"], down)
}
