// File: internal/cli/args.go
// Author: momentics <momentics@gmail.com>

package cli

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/momentics/hioload-qos/api"
	"github.com/momentics/hioload-qos/facade"
)

func parseValue(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("value %q: %w", s, err)
	}
	return int32(v), nil
}

func (o *RootOptions) newPoker(onRelease func(api.Release)) (*facade.Poker, error) {
	cfg := facade.DefaultConfig()
	cfg.Logger = o.Logger
	cfg.CPUAffinity = o.Viper.GetInt("cpu")
	cfg.OnRelease = onRelease
	return facade.New(cfg)
}

func releaseFields(rel api.Release) []zap.Field {
	return []zap.Field{
		zap.String("path", rel.Path),
		zap.Int32("value", rel.Value),
		zap.String("reason", string(rel.Reason)),
		zap.Duration("held", rel.Held),
	}
}
